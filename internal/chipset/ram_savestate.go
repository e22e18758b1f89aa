package chipset

// SaveTag, SaveState and LoadState let cmd/es40 opt RAM into a
// saverestore.Registry when run with -savemem; the section is simply
// the raw backing array, since there's no register file or phase
// machine to distinguish from the bytes themselves.
func (r *RAM) SaveTag() string { return "RAM" }

func (r *RAM) SaveState() ([]byte, error) {
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out, nil
}

func (r *RAM) LoadState(blob []byte) error {
	copy(r.data, blob)
	return nil
}
