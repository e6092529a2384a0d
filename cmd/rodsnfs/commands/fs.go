package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/rodsnfs/pkg/config"
	"github.com/marmos91/rodsnfs/pkg/vfs"
)

var (
	asUID uint32
	asGID uint32
)

const ioChunk = 1 << 20

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a collection as a local user",
	Args:  cobra.MaximumNArgs(1),
	RunE: withFileSystem(func(cmd *cobra.Command, s *session, args []string) error {
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		inode, err := s.resolve(target)
		if err != nil {
			return err
		}
		stream, err := s.fs.List(s.auth, inode)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, e := range stream.Entries {
			if e.Stat == nil {
				fmt.Fprintf(w, "?\t\t\t\t%s\n", e.Name)
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
				e.Stat.Type(), e.Stat.UID, e.Stat.GID, e.Stat.Size,
				e.Stat.Mtime.Format(time.DateTime), e.Name)
		}
		return w.Flush()
	}),
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show the attributes of an object as a local user",
	Args:  cobra.ExactArgs(1),
	RunE: withFileSystem(func(cmd *cobra.Command, s *session, args []string) error {
		inode, err := s.resolve(args[0])
		if err != nil {
			return err
		}
		st, err := s.fs.Getattr(s.auth, inode)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "  Type: %s\n", st.Type())
		fmt.Fprintf(out, "  Mode: %#o\n", st.Mode&0o7777)
		fmt.Fprintf(out, "   Uid: %d\n   Gid: %d\n", st.UID, st.GID)
		fmt.Fprintf(out, "  Size: %d\n", st.Size)
		fmt.Fprintf(out, "Handle: %d\n", st.Fileid)
		fmt.Fprintf(out, "Modify: %s\n", st.Mtime.Format(time.RFC3339))
		fmt.Fprintf(out, "Change: %s\n", st.Ctime.Format(time.RFC3339))
		return nil
	}),
}

var getfaclCmd = &cobra.Command{
	Use:   "getfacl <path>",
	Short: "Print the NFSv4 ACL of an object as a local user",
	Args:  cobra.ExactArgs(1),
	RunE: withFileSystem(func(cmd *cobra.Command, s *session, args []string) error {
		inode, err := s.resolve(args[0])
		if err != nil {
			return err
		}
		aces, err := s.fs.GetACL(s.auth, inode)
		if err != nil {
			return err
		}
		for _, ace := range aces {
			cmd.Println(ace.String())
		}
		return nil
	}),
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a data object as a local user",
	Args:  cobra.ExactArgs(1),
	RunE: withFileSystem(func(cmd *cobra.Command, s *session, args []string) error {
		inode, err := s.resolve(args[0])
		if err != nil {
			return err
		}
		buf := make([]byte, ioChunk)
		var offset int64
		for {
			n, err := s.fs.Read(s.auth, inode, buf, offset)
			if n > 0 {
				if _, werr := cmd.OutOrStdout().Write(buf[:n]); werr != nil {
					return werr
				}
				offset += int64(n)
			}
			if err != nil {
				return err
			}
			if n < len(buf) {
				return nil
			}
		}
	}),
}

var putCmd = &cobra.Command{
	Use:   "put <local-file> <path>",
	Short: "Upload a local file as a new data object as a local user",
	Args:  cobra.ExactArgs(2),
	RunE: withFileSystem(func(cmd *cobra.Command, s *session, args []string) error {
		src, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		dir, name := path.Split(strings.TrimSuffix(args[1], "/"))
		parent, err := s.resolve(dir)
		if err != nil {
			return err
		}
		inode, err := s.fs.Create(s.auth, parent, vfs.FileTypeRegular, name, 0o644)
		if err != nil {
			return err
		}

		buf := make([]byte, ioChunk)
		var offset int64
		for {
			n, err := src.Read(buf)
			if n > 0 {
				if _, werr := s.fs.Write(s.auth, inode, buf[:n], offset, vfs.FileSync); werr != nil {
					return werr
				}
				offset += int64(n)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
		}
		cmd.Printf("%d bytes written to %s\n", offset, args[1])
		return nil
	}),
}

func init() {
	for _, c := range []*cobra.Command{lsCmd, statCmd, getfaclCmd, catCmd, putCmd} {
		c.Flags().Uint32Var(&asUID, "uid", uint32(os.Getuid()), "local uid to act as")
		c.Flags().Uint32Var(&asGID, "gid", uint32(os.Getgid()), "local gid to act as")
	}
}

type fsCommand func(cmd *cobra.Command, s *session, args []string) error

// session is a filesystem opened by a one-shot client command.
type session struct {
	fs         vfs.VirtualFileSystem
	auth       *vfs.AuthContext
	mountPoint string
}

// withFileSystem builds the configured stack for the duration of one
// command and runs fn as the --uid/--gid identity.
func withFileSystem(fn fsCommand) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		stack, err := config.Build(ctx, cfg, nil)
		if err != nil {
			return fmt.Errorf("failed to build filesystem: %w", err)
		}
		defer stack.Close()

		return fn(cmd, &session{
			fs:   stack.FS,
			auth: &vfs.AuthContext{
				Context:    ctx,
				UID:        asUID,
				GID:        asGID,
				ClientAddr: "cli",
			},
			mountPoint: path.Clean(cfg.Server.MountPoint),
		}, args)
	}
}

// resolve walks p one component at a time from the export root. Absolute
// paths must lie under the mount point.
func (s *session) resolve(p string) (vfs.Inode, error) {
	if strings.HasPrefix(p, "/") {
		clean := path.Clean(p)
		rel, ok := strings.CutPrefix(clean, s.mountPoint)
		if !ok || (rel != "" && !strings.HasPrefix(rel, "/")) {
			return nil, fmt.Errorf("%s is outside the mount point %s", p, s.mountPoint)
		}
		p = rel
	}

	inode := s.fs.RootInode()
	for _, name := range strings.Split(p, "/") {
		if name == "" || name == "." {
			continue
		}
		next, err := s.fs.Lookup(s.auth, inode, name)
		if err != nil {
			return nil, err
		}
		inode = next
	}
	return inode, nil
}
