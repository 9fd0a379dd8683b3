package auth

import (
	"reflect"
	"testing"
)

func TestDirectoryAuthenticate(t *testing.T) {
	d := NewDirectory(Credentials{"alice": "secret", "bob": "hunter2"}, []string{"alice"})

	if !d.Authenticate("alice", "secret") {
		t.Fatal("valid credentials rejected")
	}
	if d.Authenticate("alice", "wrong") {
		t.Fatal("wrong password accepted")
	}
	if d.Authenticate("carol", "secret") {
		t.Fatal("unknown user accepted")
	}
	if d.Authenticate("", "") || d.Authenticate("alice", "") {
		t.Fatal("empty credentials accepted")
	}
}

func TestDirectoryAdminAndUsers(t *testing.T) {
	d := NewDirectory(Credentials{"bob": "x", "alice": "y"}, []string{"alice"})

	if !d.IsAdmin("alice") || d.IsAdmin("bob") {
		t.Fatal("admin flags wrong")
	}
	if !d.IsValidUser("bob") || d.IsValidUser("carol") {
		t.Fatal("user existence wrong")
	}
	if got := d.Users(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("expected sorted usernames, got %v", got)
	}
}
