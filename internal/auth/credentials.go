package auth

import "sort"

// Credentials is the injected username -> password table. The core never
// hardcodes its contents; cmd wiring decides where they come from.
type Credentials map[string]string

// Directory validates logins against an injected credential table and knows
// which users hold admin rights.
type Directory struct {
	creds  Credentials
	admins map[string]struct{}
}

// NewDirectory builds a directory from a credential table and an admin list.
func NewDirectory(creds Credentials, admins []string) *Directory {
	adminSet := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		adminSet[a] = struct{}{}
	}
	return &Directory{creds: creds, admins: adminSet}
}

// Authenticate reports whether the username/password pair is valid.
func (d *Directory) Authenticate(username, password string) bool {
	if username == "" || password == "" {
		return false
	}
	stored, ok := d.creds[username]
	return ok && stored == password
}

// IsValidUser reports whether the username exists.
func (d *Directory) IsValidUser(username string) bool {
	_, ok := d.creds[username]
	return ok
}

// IsAdmin reports whether the username holds admin rights.
func (d *Directory) IsAdmin(username string) bool {
	_, ok := d.admins[username]
	return ok
}

// Users returns every known username, sorted.
func (d *Directory) Users() []string {
	users := make([]string, 0, len(d.creds))
	for u := range d.creds {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
