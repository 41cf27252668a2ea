package main

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"veilnet.io/errors"
	"veilnet.io/veilnet"
)

// clientState is the CLI's local record of the identities it has minted,
// persisted as JSON under the state directory. A production deployment
// would keep userSecret in an OS keychain; a flat file is this CLI's
// stand-in.
type clientState struct {
	Users   []storedUser   `json:"users"`
	Folders []storedFolder `json:"folders"`
}

type storedUser struct {
	ID     veilnet.UserID `json:"id"`
	Secret string         `json:"secret"` // base64 of the secret passed to identity.NewUser
}

type storedFolder struct {
	ID       veilnet.FolderID `json:"id"`
	OwnerID  veilnet.UserID   `json:"owner_id"`
	RootPath string           `json:"root_path"`
}

func statePath(dir string) string { return filepath.Join(dir, "state.json") }

func loadState(dir string) (*clientState, error) {
	const op = "main.loadState"
	data, err := os.ReadFile(statePath(dir))
	if os.IsNotExist(err) {
		return &clientState{}, nil
	}
	if err != nil {
		return nil, errors.E(op, err)
	}
	var st clientState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.E(op, err)
	}
	return &st, nil
}

func saveState(dir string, st *clientState) error {
	const op = "main.saveState"
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.E(op, err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.E(op, err)
	}
	return os.WriteFile(statePath(dir), data, 0o600)
}

func (st *clientState) addUser(id veilnet.UserID, secret []byte) {
	st.Users = append(st.Users, storedUser{ID: id, Secret: base64.StdEncoding.EncodeToString(secret)})
}

func (st *clientState) addFolder(id veilnet.FolderID, owner veilnet.UserID, root string) {
	st.Folders = append(st.Folders, storedFolder{ID: id, OwnerID: owner, RootPath: root})
}

func (st *clientState) userSecret(id veilnet.UserID) ([]byte, bool) {
	for _, u := range st.Users {
		if u.ID == id {
			b, err := base64.StdEncoding.DecodeString(u.Secret)
			return b, err == nil
		}
	}
	return nil, false
}

func (st *clientState) folder(id veilnet.FolderID) (storedFolder, bool) {
	for _, f := range st.Folders {
		if f.ID == id {
			return f, true
		}
	}
	return storedFolder{}, false
}

// defaultUser returns the sole stored user when exactly one exists, the
// common case for a single-identity CLI session.
func (st *clientState) defaultUser() (storedUser, bool) {
	if len(st.Users) != 1 {
		return storedUser{}, false
	}
	return st.Users[0], true
}
