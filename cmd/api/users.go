package main

import (
	"encoding/json"
	"log"
	"os"
	"strings"

	"tms-dashboard/internal/auth"
)

// loadCredentials reads the username -> password table from the JSON file
// named by USERS_FILE. Without one, a lone dev login is provided so a local
// instance is reachable.
func loadCredentials() auth.Credentials {
	path := os.Getenv("USERS_FILE")
	if path == "" {
		return auth.Credentials{"admin": "admin"}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read users file %s: %v", path, err)
	}
	var creds auth.Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		log.Fatalf("parse users file %s: %v", path, err)
	}
	return creds
}

// loadAdmins reads the comma-separated ADMIN_USERS list.
func loadAdmins() []string {
	v := os.Getenv("ADMIN_USERS")
	if v == "" {
		return []string{"admin"}
	}
	var admins []string
	for _, a := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(a); trimmed != "" {
			admins = append(admins, trimmed)
		}
	}
	return admins
}
