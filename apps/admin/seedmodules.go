package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/didisacademy/academy/core/module"
	appfs "github.com/didisacademy/academy/fs"
)

// seedModules upserts the modules of the seed file at path, or of the embedded catalog.
func (cli *commandLine) seedModules(ctx context.Context, path string) error {
	var r io.ReadCloser
	var err error
	if path == "" {
		r, err = appfs.FS.Open(appfs.DefaultSeedFile)
	} else {
		r, err = os.Open(path)
	}
	if err != nil {
		return errors.Wrap(err, "opening seed file")
	}
	defer r.Close()

	seeds, err := module.LoadSeeds(r)
	if err != nil {
		return err
	}
	res, err := cli.moduleSvc.Seed(ctx, seeds)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "modules: %d created, %d updated\n", res.Created, res.Updated)
	return nil
}
