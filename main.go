package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func init() {
	stdFormatter := &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
		ForceColors:     true,
		DisableColors:   false,
	}
	log.SetFormatter(stdFormatter)
	log.SetLevel(log.InfoLevel)
}

// configFrom loads the config file and environment, then lets any global flag
// given on the command line win.
func configFrom(ctx *cli.Context) (*Config, error) {
	cfg, err := LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet("image") {
		cfg.Image = ctx.String("image")
	}
	if ctx.IsSet("blocks") {
		cfg.Blocks = uint32(ctx.Uint("blocks"))
	}
	if ctx.IsSet("debug") {
		cfg.Debug = ctx.Bool("debug")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.SetLevel(cfg.Level())
	if cfg.Debug {
		log.Warn("Debug mode enabled")
	}
	return cfg, nil
}

// openDevice opens the image. With create set and a block count configured,
// the image is created or resized to that many blocks.
func openDevice(cfg *Config, create bool) (*FileBlockDevice, error) {
	if create && cfg.Blocks != 0 {
		return NewFileBlockDevice(cfg.Image, uint64(cfg.Blocks))
	}
	if _, err := os.Stat(cfg.Image); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("image %s does not exist; format it with --blocks N", cfg.Image)
		}
		return nil, err
	}
	return OpenFileBlockDevice(cfg.Image)
}

type fsAction func(fs *GoatFS, cfg *Config, ctx *cli.Context) error

// withFS opens the image around fn, mounting it first when mount is set.
func withFS(create, mount bool, fn fsAction) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		cfg, err := configFrom(ctx)
		if err != nil {
			return cli.Exit(err, 1)
		}
		dev, err := openDevice(cfg, create)
		if err != nil {
			return cli.Exit(err, ExitCode(err))
		}
		fs := NewGoatFS(dev)
		defer func() {
			if err := fs.Close(); err != nil {
				log.Errorf("close %s: %v", cfg.Image, err)
			}
		}()
		if mount {
			if err := fs.Mount(); err != nil {
				return cli.Exit(errors.Wrap(err, "mount failed"), ExitCode(err))
			}
		}
		if err := fn(fs, cfg, ctx); err != nil {
			return cli.Exit(err, ExitCode(err))
		}
		return nil
	}
}

func inumberFlag() cli.Flag {
	return &cli.UintFlag{
		Name:     "inode",
		Aliases:  []string{"i"},
		Usage:    "the inumber to operate on",
		Required: true,
	}
}

func fileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "the host file",
		Required: true,
	}
}

func main() {
	app := cli.App{
		Name:  appName,
		Usage: "a tiny inode filesystem living in a disk image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML config file",
			},
			&cli.StringFlag{
				Name:  "image",
				Usage: "path of the disk image",
			},
			&cli.UintFlag{
				Name:  "blocks",
				Usage: "number of blocks when creating or resizing the image (format only)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "print debug data",
			},
		},
		Commands: []*cli.Command{{
			Name:   "format",
			Usage:  "write a fresh filesystem onto the image",
			Action: withFS(true, false, cmdFormat),
		}, {
			Name:   "debug",
			Usage:  "dump the superblock and the inode table",
			Action: withFS(false, false, cmdDebug),
		}, {
			Name:   "create",
			Usage:  "allocate an inode",
			Action: withFS(false, true, cmdCreate),
		}, {
			Name:    "remove",
			Aliases: []string{"rm"},
			Usage:   "free an inode and its blocks",
			Flags:   []cli.Flag{inumberFlag()},
			Action:  withFS(false, true, cmdRemove),
		}, {
			Name:   "stat",
			Usage:  "print the size of an inode",
			Flags:  []cli.Flag{inumberFlag()},
			Action: withFS(false, true, cmdStat),
		}, {
			Name:   "cat",
			Usage:  "print the contents of an inode",
			Flags:  []cli.Flag{inumberFlag()},
			Action: withFS(false, true, cmdCat),
		}, {
			Name:   "copyin",
			Usage:  "copy a host file into an inode",
			Flags:  []cli.Flag{inumberFlag(), fileFlag()},
			Action: withFS(false, true, cmdCopyIn),
		}, {
			Name:   "copyout",
			Usage:  "copy an inode out to a host file",
			Flags:  []cli.Flag{inumberFlag(), fileFlag()},
			Action: withFS(false, true, cmdCopyOut),
		}, {
			Name:      "write",
			Usage:     "write DATA into an inode at an offset",
			ArgsUsage: "DATA",
			Flags: []cli.Flag{
				inumberFlag(),
				&cli.Uint64Flag{
					Name:  "offset",
					Usage: "byte offset to write at",
				},
			},
			Action: withFS(false, true, cmdWrite),
		}, {
			Name:      "fuse",
			Usage:     "serve the image through FUSE until unmounted",
			ArgsUsage: "MOUNTPOINT",
			Action:    withFS(false, true, cmdFuse),
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func cmdFormat(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	if err := fs.Format(); err != nil {
		return err
	}
	fmt.Println("disk formatted.")
	return nil
}

func cmdDebug(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	return fs.Debug(os.Stdout)
}

func cmdCreate(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	inumber, err := fs.Create()
	if err != nil {
		return err
	}
	fmt.Printf("created inode %d.\n", inumber)
	return nil
}

func cmdRemove(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	inumber := uint32(ctx.Uint("inode"))
	if err := fs.Remove(inumber); err != nil {
		return err
	}
	fmt.Printf("removed inode %d.\n", inumber)
	return nil
}

func cmdStat(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	inumber := uint32(ctx.Uint("inode"))
	size, err := fs.Stat(inumber)
	if err != nil {
		return err
	}
	fmt.Printf("inode %d has size %d bytes.\n", inumber, size)
	return nil
}

func cmdCat(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	_, err := CopyOut(fs, uint32(ctx.Uint("inode")), os.Stdout)
	return err
}

func cmdCopyIn(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	inumber := uint32(ctx.Uint("inode"))
	f, err := os.Open(ctx.String("file"))
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := CopyIn(fs, inumber, f)
	fmt.Printf("%d bytes copied\n", n)
	return err
}

func cmdCopyOut(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	inumber := uint32(ctx.Uint("inode"))
	f, err := os.OpenFile(ctx.String("file"), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := CopyOut(fs, inumber, f)
	if err != nil {
		return err
	}
	fmt.Printf("%d bytes copied\n", n)
	return nil
}

func cmdWrite(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return errors.New("write takes exactly one DATA argument")
	}
	inumber := uint32(ctx.Uint("inode"))
	n, err := fs.Write(inumber, []byte(ctx.Args().First()), ctx.Uint64("offset"))
	fmt.Printf("wrote %d bytes to inode %d.\n", n, inumber)
	return err
}

func cmdFuse(fs *GoatFS, cfg *Config, ctx *cli.Context) error {
	mountpoint := cfg.Mountpoint
	if ctx.Args().Present() {
		mountpoint = ctx.Args().First()
	}
	if mountpoint == "" {
		return errors.New("usage: goatfs fuse MOUNTPOINT")
	}
	gfs := NewGoatFUSE(fs)
	server, err := fuse.NewServer(gfs, mountpoint, &fuse.MountOptions{
		Name:   appName,
		FsName: cfg.Image,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return err
	}
	server.SetDebug(cfg.Debug)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.Serve()
	}()

	if err := server.WaitMount(); err != nil {
		return err
	}
	log.Infof("serving %s on %s", cfg.Image, mountpoint)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("got %v, unmounting %s", sig, mountpoint)
		if err := server.Unmount(); err != nil {
			log.Errorf("unmount: %v", err)
		}
	}()

	wg.Wait()
	signal.Stop(sigs)
	log.Infof("unmounted %s: %d nodes still looked up, %d files still open", mountpoint, gfs.nodes.Count(), gfs.openfiles.Count())
	return nil
}
