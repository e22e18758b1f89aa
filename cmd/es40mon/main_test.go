package main

import "testing"

func TestParseLineNoArgs(t *testing.T) {
	command, args, err := parseLine("query-status")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if command != "query-status" {
		t.Fatalf("command = %q, want query-status", command)
	}
	if args != nil {
		t.Fatalf("args = %v, want nil", args)
	}
}

func TestParseLineWithArgs(t *testing.T) {
	command, args, err := parseLine("inject-key code=30 release=true")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if command != "inject-key" {
		t.Fatalf("command = %q, want inject-key", command)
	}
	if args["code"] != float64(30) {
		t.Fatalf("args[code] = %v (%T), want float64(30)", args["code"], args["code"])
	}
	if args["release"] != true {
		t.Fatalf("args[release] = %v, want true", args["release"])
	}
}

func TestParseLineStringArgument(t *testing.T) {
	command, args, err := parseLine("save-state path=/tmp/es40.state")
	if err != nil {
		t.Fatalf("parseLine: %v", err)
	}
	if command != "save-state" {
		t.Fatalf("command = %q, want save-state", command)
	}
	if args["path"] != "/tmp/es40.state" {
		t.Fatalf("args[path] = %v, want /tmp/es40.state", args["path"])
	}
}

func TestParseLineMalformedArgument(t *testing.T) {
	_, _, err := parseLine("inject-key code")
	if err == nil {
		t.Fatal("expected an error for an argument without '='")
	}
}

func TestCoerceGuessesTypes(t *testing.T) {
	if v := coerce("true"); v != true {
		t.Fatalf("coerce(true) = %v (%T)", v, v)
	}
	if v := coerce("42"); v != float64(42) {
		t.Fatalf("coerce(42) = %v (%T)", v, v)
	}
	if v := coerce("/tmp/foo"); v != "/tmp/foo" {
		t.Fatalf("coerce(/tmp/foo) = %v (%T)", v, v)
	}
}
