// phototag adds labels from an image labeling service to photos: XMP
// sidecars for camera RAW files, embedded keywords for JPEG and PNG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/tstromberg/phototag/pkg/phototag"
)

const usage = `usage: %s [klog flags] <command> [flags] [files...]

commands:
  run     tag images
  auth    install a Google credentials file into the config directory
  config  print the active configuration
`

var errTasksFailed = errors.New("some images could not be tagged")

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "run":
		err = runCmd(args)
	case "auth":
		err = authCmd(args)
	case "config":
		err = configCmd(args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	klog.Flush()

	if errors.Is(err, errTasksFailed) {
		os.Exit(1)
	}
	if err != nil {
		klog.Exitf("%s failed: %v", cmd, err)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	def, err := phototag.DefaultPath()
	if err != nil {
		klog.Warningf("no default config path: %v", err)
	}
	return fs.String("config", def, "path to configuration file")
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inDir := fs.String("in", ".", "input directory")
	all := fs.Bool("all", false, "tag every image in the input directory")
	regex := fs.String("regex", "", "tag images in the input directory matching this regular expression")
	glob := fs.String("glob", "", "tag images matching this glob pattern")
	depth := fs.Int("depth", 0, "directory depth for -all and -regex, -1 for unlimited")
	match := fs.String("match", "relative", "path form -regex is matched against: relative, absolute or filename")
	dryRun := fs.Bool("n", false, "dry-run mode, detect labels but don't write them")
	outDir := fs.String("out", "", "copy tagged images and sidecars to this directory")
	watchFlag := fs.Bool("watch", false, "keep running and tag new images as they appear in the input directory")
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := phototag.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.ApplyEnv()

	paths, err := phototag.Select(phototag.Selection{
		Root:  *inDir,
		Files: fs.Args(),
		All:   *all,
		Regex: *regex,
		Glob:  *glob,
		Depth: *depth,
		Match: *match,
	})
	if err != nil && !*watchFlag {
		return err
	}
	if err != nil {
		klog.Infof("nothing to tag yet: %v", err)
	}

	lock, err := phototag.LockDir(*inDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			klog.Errorf("unlock: %v", err)
		}
	}()

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			return fmt.Errorf("mkdir: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := newBatcher(ctx, c, *inDir, *outDir, *dryRun)
	if err != nil {
		return err
	}
	defer b.Close()

	failed := 0
	if len(paths) > 0 {
		n, err := b.run(ctx, paths)
		if err != nil {
			return err
		}
		failed += n
	}

	if *watchFlag {
		if err := b.watch(ctx, *inDir); err != nil {
			return err
		}
	}

	if failed > 0 {
		return errTasksFailed
	}
	return nil
}

func authCmd(args []string) error {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	move := fs.Bool("move", false, "move instead of copying the credentials file")
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("auth takes exactly one credentials file")
	}

	path, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory, not a file", path)
	}

	c, err := phototag.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	dst := filepath.Join(c.Dir(), filepath.Base(path))
	if err := copy.Copy(path, dst, copy.Options{PreserveTimes: true}); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := os.Chmod(dst, 0o600); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if *move {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove: %w", err)
		}
		klog.Infof("moved %s to %s", path, dst)
	} else {
		klog.Infof("copied %s to %s", path, dst)
	}

	c.Google.Credentials = filepath.Base(path)
	if err := c.Save(*cfgPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	klog.Infof("configuration updated: %s", *cfgPath)
	return nil
}

func configCmd(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := phototag.Load(*cfgPath)
	if err != nil {
		return err
	}
	limits, err := c.ScheduleLimits()
	if err != nil {
		return err
	}

	fmt.Printf("config:      %s\n", *cfgPath)
	fmt.Printf("backend:     %s\n", c.Label.Backend)
	fmt.Printf("credentials: %s\n", c.CredentialsPath())
	fmt.Printf("limits:      %d images, %s, single override %v\n",
		limits.MaxConcurrent, humanize.Bytes(uint64(limits.MaxBytes)), limits.SingletonOverride)
	return nil
}
