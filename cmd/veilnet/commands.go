package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"veilnet.io/coordinator"
	"veilnet.io/errors"
	"veilnet.io/log"
	"veilnet.io/nntp"
	"veilnet.io/nntp/inprocess"
	"veilnet.io/publication"
	"veilnet.io/store"
	"veilnet.io/veilnet"
)

// openCoordinator loads configuration and state, opens the store, and
// wires a Coordinator against dialer. Every subcommand but demo dials
// an in-process server scoped to this one process; this build carries
// no persistent-network provider dialer (see DESIGN.md), so articles
// posted by one invocation are not visible to the next.
func openCoordinator(ctx context.Context, g globalFlags) (*coordinator.Coordinator, *clientState, func(), error) {
	const op = "main.openCoordinator"
	cfg, err := coordinator.LoadConfig(g.Config)
	if err != nil {
		return nil, nil, nil, errors.E(op, err)
	}
	st, err := loadState(g.StateDir)
	if err != nil {
		return nil, nil, nil, errors.E(op, err)
	}
	s, err := store.Open(g.DBPath)
	if err != nil {
		return nil, nil, nil, errors.E(op, err)
	}

	srv := inprocess.NewServer()
	dialer := &inprocess.Dialer{Server: srv}
	c := coordinator.New(cfg, s, dialer, nil)
	c.Start(ctx)

	closeFn := func() {
		c.Close(ctx)
		s.Close()
	}
	return c, st, closeFn, nil
}

func mustUser(st *clientState, userID string) (veilnet.UserID, []byte, error) {
	if userID == "" {
		u, ok := st.defaultUser()
		if !ok {
			return "", nil, errors.Str("no default identity; pass --user or run 'veilnet adduser' once")
		}
		secret, _ := st.userSecret(u.ID)
		return u.ID, secret, nil
	}
	secret, ok := st.userSecret(veilnet.UserID(userID))
	if !ok {
		return "", nil, errors.Str("unknown user " + userID)
	}
	return veilnet.UserID(userID), secret, nil
}

func runAddUser(args []string, g globalFlags) error {
	const op = "main.runAddUser"
	fs := flag.NewFlagSet("adduser", flag.ExitOnError)
	fs.Parse(args)

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return errors.E(op, err)
	}

	ctx := context.Background()
	c, st, closeFn, err := openCoordinator(ctx, g)
	if err != nil {
		return errors.E(op, err)
	}
	defer closeFn()

	u, err := c.CreateUser(ctx, secret)
	if err != nil {
		return errors.E(op, err)
	}
	st.addUser(u.ID, secret)
	if err := saveState(g.StateDir, st); err != nil {
		return errors.E(op, err)
	}
	fmt.Println(color.GreenString("created user %s", u.ID))
	return nil
}

func runAddFolder(args []string, g globalFlags) error {
	const op = "main.runAddFolder"
	fs := flag.NewFlagSet("addfolder", flag.ExitOnError)
	userID := fs.String("user", "", "owning user ID (default: the sole stored identity)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.Str("usage: veilnet addfolder [--user <id>] <root-path>")
	}
	root := fs.Arg(0)

	ctx := context.Background()
	c, st, closeFn, err := openCoordinator(ctx, g)
	if err != nil {
		return errors.E(op, err)
	}
	defer closeFn()

	uid, secret, err := mustUser(st, *userID)
	if err != nil {
		return errors.E(op, err)
	}
	owner, err := c.GetUser(ctx, uid)
	if err != nil {
		return errors.E(op, err)
	}

	f, err := c.AddFolder(ctx, owner, secret, root)
	if err != nil {
		return errors.E(op, err)
	}
	st.addFolder(f.ID, owner.ID, root)
	if err := saveState(g.StateDir, st); err != nil {
		return errors.E(op, err)
	}
	fmt.Println(color.GreenString("added folder %s (%s)", f.ID, root))
	return nil
}

// folderOwner resolves a stored folder ID back to its Folder and owning
// User/secret, as every workflow past add_folder needs all three.
func folderOwner(ctx context.Context, c *coordinator.Coordinator, st *clientState, folderID string) (*veilnet.Folder, *veilnet.User, []byte, error) {
	const op = "main.folderOwner"
	sf, ok := st.folder(veilnet.FolderID(folderID))
	if !ok {
		return nil, nil, nil, errors.E(op, errors.Str("unknown folder "+folderID))
	}
	f, err := c.GetFolder(ctx, sf.ID)
	if err != nil {
		return nil, nil, nil, errors.E(op, err)
	}
	owner, err := c.GetUser(ctx, sf.OwnerID)
	if err != nil {
		return nil, nil, nil, errors.E(op, err)
	}
	secret, ok := st.userSecret(sf.OwnerID)
	if !ok {
		return nil, nil, nil, errors.E(op, errors.Str("missing secret for owner "+string(sf.OwnerID)))
	}
	return f, owner, secret, nil
}

// watchProgress polls GetProgress until the operation finishes,
// driving a terminal progress bar.
func watchProgress(c *coordinator.Coordinator, id coordinator.OperationID, label string) (coordinator.Progress, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	for {
		p, ok := c.GetProgress(id)
		if !ok {
			return p, errors.Str("operation vanished: " + string(id))
		}
		if p.Total > 0 {
			bar.ChangeMax(p.Total)
			bar.Set(p.Completed + p.Failed)
		}
		if p.Done {
			bar.Finish()
			return p, nil
		}
		time.Sleep(150 * time.Millisecond)
	}
}

func runIndex(args []string, g globalFlags) error {
	const op = "main.runIndex"
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.Str("usage: veilnet index <folder-id>")
	}

	ctx := context.Background()
	c, st, closeFn, err := openCoordinator(ctx, g)
	if err != nil {
		return errors.E(op, err)
	}
	defer closeFn()

	f, owner, secret, err := folderOwner(ctx, c, st, fs.Arg(0))
	if err != nil {
		return errors.E(op, err)
	}
	id, err := c.IndexFolder(ctx, f, owner, secret)
	if err != nil {
		return errors.E(op, err)
	}
	p, err := watchProgress(c, id, "indexing")
	if err != nil {
		return errors.E(op, err)
	}
	if p.Err != nil {
		return errors.E(op, p.Err)
	}
	fmt.Println(color.GreenString("indexed: %d/%d files, %d failed", p.Completed, p.Total, p.Failed))
	return nil
}

func runUpload(args []string, g globalFlags) error {
	const op = "main.runUpload"
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.Str("usage: veilnet upload <folder-id>")
	}

	ctx := context.Background()
	c, st, closeFn, err := openCoordinator(ctx, g)
	if err != nil {
		return errors.E(op, err)
	}
	defer closeFn()

	f, owner, secret, err := folderOwner(ctx, c, st, fs.Arg(0))
	if err != nil {
		return errors.E(op, err)
	}
	id, err := c.UploadFolder(ctx, f, owner, secret)
	if err != nil {
		return errors.E(op, err)
	}
	p, err := watchProgress(c, id, "uploading")
	if err != nil {
		return errors.E(op, err)
	}
	if p.Err != nil {
		return errors.E(op, p.Err)
	}
	fmt.Println(color.GreenString("uploaded: %d posted, %d failed", p.Completed, p.Failed))
	return nil
}

func parseAccessLevel(s string) (veilnet.AccessLevel, error) {
	switch s {
	case "", "public":
		return veilnet.Public, nil
	case "private":
		return veilnet.Private, nil
	case "protected":
		return veilnet.Protected, nil
	default:
		return 0, errors.Str("unknown access level " + s)
	}
}

func runPublish(args []string, g globalFlags) error {
	const op = "main.runPublish"
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	access := fs.String("access", "public", "public|private|protected")
	password := fs.String("password", "", "required when --access=protected")
	ttl := fs.Duration("ttl", 0, "expiry relative to now, e.g. 168h (0 = never)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.Str("usage: veilnet publish [--access level] [--password pw] [--ttl dur] <folder-id>")
	}

	level, err := parseAccessLevel(*access)
	if err != nil {
		return errors.E(op, err)
	}

	ctx := context.Background()
	c, st, closeFn, err := openCoordinator(ctx, g)
	if err != nil {
		return errors.E(op, err)
	}
	defer closeFn()

	f, owner, secret, err := folderOwner(ctx, c, st, fs.Arg(0))
	if err != nil {
		return errors.E(op, err)
	}

	opts := publication.PublishOptions{AccessLevel: level, Password: *password, ScryptN: 16384, ScryptR: 8, ScryptP: 1}
	if *ttl > 0 {
		opts.ExpiresAt = time.Now().Add(*ttl)
	}
	shareID, wrapped, err := c.PublishFolder(ctx, f, owner, secret, opts)
	if err != nil {
		return errors.E(op, err)
	}
	fmt.Println(color.GreenString("published share %s (%s)", shareID, level))
	if len(wrapped) > 0 {
		fmt.Printf("%d wrapped key(s) minted for authorized users\n", len(wrapped))
	}
	return nil
}

func runDownload(args []string, g globalFlags) error {
	const op = "main.runDownload"
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	dest := fs.String("dest", ".", "destination directory")
	password := fs.String("password", "", "for PROTECTED shares")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.Str("usage: veilnet download [--dest dir] [--password pw] <share-id>")
	}

	ctx := context.Background()
	c, _, closeFn, err := openCoordinator(ctx, g)
	if err != nil {
		return errors.E(op, err)
	}
	defer closeFn()

	creds := coordinator.Credentials{Password: *password}
	id, err := c.DownloadShare(ctx, veilnet.ShareID(fs.Arg(0)), *dest, creds)
	if err != nil {
		return errors.E(op, err)
	}
	p, err := watchProgress(c, id, "downloading")
	if err != nil {
		return errors.E(op, err)
	}
	if p.Err != nil {
		return errors.E(op, p.Err)
	}
	fmt.Println(color.GreenString("downloaded %d file(s) to %s", p.Completed, *dest))
	return nil
}

func runProgress(args []string, g globalFlags) error {
	const op = "main.runProgress"
	if len(args) != 1 {
		return errors.Str("usage: veilnet progress <operation-id>")
	}
	ctx := context.Background()
	c, _, closeFn, err := openCoordinator(ctx, g)
	if err != nil {
		return errors.E(op, err)
	}
	defer closeFn()

	p, ok := c.GetProgress(coordinator.OperationID(args[0]))
	if !ok {
		return errors.E(op, errors.Str("unknown operation"))
	}
	fmt.Printf("kind=%s total=%d completed=%d failed=%d done=%v cancelled=%v err=%v\n",
		p.Kind, p.Total, p.Completed, p.Failed, p.Done, p.Cancelled, p.Err)
	return nil
}

// runDemo runs the full workflow in one process against a freshly
// minted identity, folder, and in-process NNTP server, so the system
// can be exercised without a real Usenet provider account.
func runDemo(args []string, g globalFlags) error {
	const op = "main.runDemo"
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	src := fs.String("source", "", "folder to index and publish (required)")
	dest := fs.String("dest", "", "directory to reconstruct the download into (required)")
	fs.Parse(args)
	if *src == "" || *dest == "" {
		return errors.Str("usage: veilnet demo --source <dir> --dest <dir>")
	}

	ctx := context.Background()
	cfg, err := coordinator.LoadConfig(g.Config)
	if err != nil {
		return errors.E(op, err)
	}
	s, err := store.Open(":memory:")
	if err != nil {
		return errors.E(op, err)
	}
	defer s.Close()

	srv := inprocess.NewServer()
	var dialer nntp.Dialer = &inprocess.Dialer{Server: srv}
	c := coordinator.New(cfg, s, dialer, nil)
	c.Start(ctx)
	defer c.Close(ctx)

	secret := make([]byte, 32)
	rand.Read(secret)
	owner, err := c.CreateUser(ctx, secret)
	if err != nil {
		return errors.E(op, err)
	}
	folder, err := c.AddFolder(ctx, owner, secret, *src)
	if err != nil {
		return errors.E(op, err)
	}

	for _, step := range []struct {
		label string
		start func() (coordinator.OperationID, error)
	}{
		{"indexing", func() (coordinator.OperationID, error) { return c.IndexFolder(ctx, folder, owner, secret) }},
		{"uploading", func() (coordinator.OperationID, error) { return c.UploadFolder(ctx, folder, owner, secret) }},
	} {
		id, err := step.start()
		if err != nil {
			return errors.E(op, err)
		}
		p, err := watchProgress(c, id, step.label)
		if err != nil {
			return errors.E(op, err)
		}
		if p.Err != nil {
			return errors.E(op, p.Err)
		}
	}

	shareID, _, err := c.PublishFolder(ctx, folder, owner, secret, publication.PublishOptions{AccessLevel: veilnet.Public})
	if err != nil {
		return errors.E(op, err)
	}
	log.Infof("published demo share %s", shareID)

	id, err := c.DownloadShare(ctx, shareID, *dest, coordinator.Credentials{})
	if err != nil {
		return errors.E(op, err)
	}
	p, err := watchProgress(c, id, "downloading")
	if err != nil {
		return errors.E(op, err)
	}
	if p.Err != nil {
		return errors.E(op, p.Err)
	}
	fmt.Println(color.GreenString("demo complete: share %s reconstructed to %s", shareID, *dest))
	return nil
}
