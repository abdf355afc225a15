/*
Package store persists the daemon's session state to a single JSON file.

# Overview

Every durable fact the session core owns lives here: the remembered
tenant, the most recent workspace, the sign-in flag, workspace and
artifact folder mappings, visibility filters, and tree view expansion
state. The file is the source of truth across daemon restarts.

# Write discipline

Mutations go through Mutate, which applies the change and writes the
file before returning. A crash immediately after a mutating call can
therefore never lose the write. Writes are atomic (temp file + rename)
and the previous file is kept as a rotating gzip backup.

# Usage

	st := store.New(path, store.WithBackups(5))
	existed, err := st.Load()

	st.Mutate(func(s *store.Settings) {
		s.MostRecentWorkspace = ws.ObjectID
		s.LoginState = true
	})

	var id string
	st.View(func(s *store.Settings) { id = s.MostRecentWorkspace })
*/
package store
