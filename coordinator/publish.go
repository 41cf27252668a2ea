package coordinator

import (
	"context"

	"veilnet.io/errors"
	"veilnet.io/publication"
	"veilnet.io/veilnet"
)

// PublishFolder snapshots folder at its current version and publishes
// it under the given access policy, returning the minted share ID and,
// for PRIVATE shares, one wrapped key per authorized user to
// distribute out of band.
func (c *Coordinator) PublishFolder(ctx context.Context, folder *veilnet.Folder, owner *veilnet.User, ownerSecret []byte, opts publication.PublishOptions) (veilnet.ShareID, []publication.WrappedKey, error) {
	const op = "coordinator.PublishFolder"
	if folder.Deleted {
		return "", nil, errors.E(op, errors.FolderNotOwned, errors.Str("folder is deleted"))
	}
	keys, err := unwrapFolderKeys(folder, owner, ownerSecret)
	if err != nil {
		return "", nil, errors.E(op, err)
	}

	// An empty folder has no file rows and stays at version 0; its
	// snapshot is a valid, empty index and publishes like any other.
	folderVersion, err := c.store.FolderVersion(ctx, folder.ID)
	if err != nil {
		return "", nil, errors.E(op, err)
	}

	shareID, wrapped, err := c.publication.Publish(ctx, folder.ID, folderVersion, keys.contentKey, opts)
	if err != nil {
		return "", nil, errors.E(op, err)
	}
	c.metrics.SharePublished(opts.AccessLevel.String())
	return shareID, wrapped, nil
}
