/*
Copyright 2025 The Jib Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package policy

import "strings"

// IdentitySet is a set of lowercase GitHub logins that all count as "the
// bot". Built once at startup; membership tests are exact after
// lowercasing.
type IdentitySet map[string]struct{}

// NewIdentitySet expands each base name into the login shapes GitHub uses
// for an App identity: the name itself, its "[bot]" suffix form, and the
// "app/<name>" and "apps/<name>" forms some API surfaces return.
func NewIdentitySet(names ...string) IdentitySet {
	set := IdentitySet{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		for _, variant := range []string{
			name,
			name + "[bot]",
			"app/" + name,
			"apps/" + name,
		} {
			set[variant] = struct{}{}
		}
	}
	return set
}

// Contains reports whether login is in the set.
func (s IdentitySet) Contains(login string) bool {
	_, ok := s[strings.ToLower(login)]
	return ok
}

// BranchPrefixes returns the prefixes that mark a branch as bot-owned by
// name alone.
func BranchPrefixes(botName string) []string {
	botName = strings.ToLower(botName)
	return []string{botName + "-", botName + "/"}
}

// UserSet is a plain set of lowercase usernames, used for the trusted
// branch owners list.
type UserSet map[string]struct{}

// NewUserSet lowercases and de-duplicates the given names.
func NewUserSet(names ...string) UserSet {
	set := UserSet{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

// Contains reports whether login is in the set.
func (s UserSet) Contains(login string) bool {
	_, ok := s[strings.ToLower(login)]
	return ok
}

// Names returns the members in no particular order, for inclusion in deny
// hints.
func (s UserSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}
