package coordinator

import (
	"context"

	"veilnet.io/errors"
	"veilnet.io/identity"
	"veilnet.io/store"
	"veilnet.io/veilnet"
)

// CreateUser mints a new permanent identity and persists it. A user ID
// is generated exactly once and never regenerated; the caller must
// retain userSecret, since loss of it is loss of identity.
func (c *Coordinator) CreateUser(ctx context.Context, userSecret []byte) (*veilnet.User, error) {
	const op = "coordinator.CreateUser"
	u, err := identity.NewUser(userSecret)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertUser(u)
	}); err != nil {
		return nil, errors.E(op, err)
	}
	return u, nil
}

// AddFolder mints a new folder identity rooted at rootPath, owned by
// owner, and persists it. ownerSecret is the same secret passed to
// CreateUser for owner and is never persisted.
func (c *Coordinator) AddFolder(ctx context.Context, owner *veilnet.User, ownerSecret []byte, rootPath string) (*veilnet.Folder, error) {
	const op = "coordinator.AddFolder"
	f, err := identity.NewFolder(owner.ID, rootPath, owner, ownerSecret)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertFolder(f)
	}); err != nil {
		return nil, errors.E(op, err)
	}
	c.log.Infof("added folder %s at %s for user %s", f.ID, rootPath, owner.ID)
	return f, nil
}

// GetUser fetches a previously created user by ID.
func (c *Coordinator) GetUser(ctx context.Context, id veilnet.UserID) (*veilnet.User, error) {
	const op = "coordinator.GetUser"
	var u *veilnet.User
	if err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		u, err = tx.FetchUser(id)
		return err
	}); err != nil {
		return nil, errors.E(op, err)
	}
	return u, nil
}

// GetFolder fetches a previously added folder by ID.
func (c *Coordinator) GetFolder(ctx context.Context, id veilnet.FolderID) (*veilnet.Folder, error) {
	const op = "coordinator.GetFolder"
	var f *veilnet.Folder
	if err := c.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		f, err = tx.FetchFolder(id)
		return err
	}); err != nil {
		return nil, errors.E(op, err)
	}
	return f, nil
}
