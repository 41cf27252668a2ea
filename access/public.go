package access

import (
	"veilnet.io/crypto"
	"veilnet.io/veilnet"
)

// DerivePublicKey computes the PUBLIC share symmetric key,
// sha256(share_id || folder_id), derivable by anyone holding the share
// ID.
func DerivePublicKey(shareID veilnet.ShareID, folderID veilnet.FolderID) []byte {
	sum := crypto.SHA256(append([]byte(shareID), []byte(folderID)...))
	return sum[:]
}
