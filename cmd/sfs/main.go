package main

import (
	"fmt"
	"os"

	sfs "github.com/JasTuh/SimpleFileSystem"
	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

var (
	blockSize   uint32
	totalBlocks uint32
	debugFUSE   bool
)

func main() {
	root := &cobra.Command{
		Use:   "sfs",
		Short: "Mount or format a sfs disk image",
	}

	mountCmd := &cobra.Command{
		Use:   "mount <image> <mountpoint>",
		Short: "Mount a disk image as a FUSE filesystem",
		Args:  cobra.ExactArgs(2),
		RunE:  runMount,
	}
	mountCmd.Flags().BoolVar(&debugFUSE, "debug", false, "log every FUSE request")

	formatCmd := &cobra.Command{
		Use:   "format <image>",
		Short: "Format a disk image without mounting it",
		Args:  cobra.ExactArgs(1),
		RunE:  runFormat,
	}
	formatCmd.Flags().Uint32Var(&blockSize, "block-size", sfs.DefaultBlockSize, "block size in bytes")
	formatCmd.Flags().Uint32Var(&totalBlocks, "total-blocks", sfs.DefaultTotalBlocks, "number of blocks in the image")

	root.AddCommand(mountCmd, formatCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openImage(imagePath string) (*os.File, error) {
	return os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE, 0644)
}

func runFormat(cmd *cobra.Command, args []string) error {
	f, err := openImage(args[0])
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	fsys, err := sfs.Mount(f, sfs.WithBlockSize(blockSize), sfs.WithTotalBlocks(totalBlocks))
	if err != nil {
		return fmt.Errorf("formatting image: %w", err)
	}
	return fsys.Close()
}

func runMount(cmd *cobra.Command, args []string) error {
	imagePath, mountpoint := args[0], args[1]
	session := uuid.New().String()
	log.WithFields(logrus.Fields{"session": session, "image": imagePath, "mountpoint": mountpoint}).Info("sfs: mounting")

	f, err := openImage(imagePath)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	fsys, err := sfs.Mount(f)
	if err != nil {
		return fmt.Errorf("mounting core filesystem: %w", err)
	}
	defer fsys.Close()

	rootNode := newRoot(fsys)
	server, err := fs.Mount(mountpoint, rootNode, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "sfs",
			Name:   "sfs",
			Debug:  debugFUSE,
		},
	})
	if err != nil {
		return fmt.Errorf("mounting FUSE server: %w", err)
	}

	log.WithFields(logrus.Fields{"session": session}).Info("sfs: mounted, serving")
	server.Wait()
	return nil
}
