// mstctl is a small inspection tool over a merkle sorted tree stored in
// a pebble database or a flatfs block directory. It exists to exercise
// the tree end to end from the command line; the library itself has no
// CLI surface.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/cockroachdb/pebble"
	flatfs "github.com/ipfs/go-ds-flatfs"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/wujifengcn/jdchain-core/mst"
	"github.com/wujifengcn/jdchain-core/mst/digest"
	"github.com/wujifengcn/jdchain-core/mst/kvstore"
)

func main() {
	app := cli.App{
		Name:  "mstctl",
		Usage: "inspect and mutate a merkle sorted tree",
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "db",
			Usage: "path to the backing store",
			Value: "mstctl.db",
		},
		&cli.BoolFlag{
			Name:  "flatfs",
			Usage: "use a flatfs block directory instead of pebble",
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "key prefix the tree writes under",
			Value: "LDG/MST/",
		},
		&cli.IntFlag{
			Name:  "degree",
			Usage: "tree degree (4, 8 or 16); only used by init",
			Value: 4,
		},
		&cli.IntFlag{
			Name:  "depth",
			Usage: "tree depth override; 0 uses the degree default",
		},
		&cli.StringFlag{
			Name:  "root",
			Usage: "base58 root hash of the tree to open",
		},
		&cli.BoolFlag{
			Name:  "no-verify",
			Usage: "skip hash verification on node loads",
		},
	}

	app.Commands = []*cli.Command{
		cmdInit,
		cmdSet,
		cmdGet,
		cmdProof,
		cmdCount,
		cmdList,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type env struct {
	store kvstore.Store
	opts  mst.TreeOptions
	log   *zap.SugaredLogger
	close func()
}

func setup(cctx *cli.Context) (*env, error) {
	rawlog, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger := rawlog.Sugar()

	prefix := []byte(cctx.String("prefix"))

	var store kvstore.Store
	closer := func() {}
	if cctx.Bool("flatfs") {
		ds, err := flatfs.CreateOrOpen(cctx.String("db"), flatfs.NextToLast(2), true)
		if err != nil {
			return nil, fmt.Errorf("%s: could not open flatfs, %w", cctx.String("db"), err)
		}
		store = kvstore.NewBlockStore(blockstore.NewBlockstore(ds), prefix)
		closer = func() { ds.Close() }
	} else {
		db, err := pebble.Open(cctx.String("db"), &pebble.Options{})
		if err != nil {
			return nil, fmt.Errorf("%s: could not open db, %w", cctx.String("db"), err)
		}
		store = kvstore.NewPebbleStore(db)
		closer = func() { db.Close() }
	}

	opts := mst.DefaultOptions()
	opts.Degree = mst.TreeDegree(cctx.Int("degree"))
	opts.MaxDepth = cctx.Int("depth")
	opts.VerifyHashOnLoad = !cctx.Bool("no-verify")

	return &env{store: store, opts: opts, log: logger, close: closer}, nil
}

func (e *env) openTree(cctx *cli.Context) (*mst.Tree, error) {
	rootArg := cctx.String("root")
	if rootArg == "" {
		return nil, fmt.Errorf("--root is required (run init first)")
	}
	raw, err := base58.Decode(rootArg)
	if err != nil {
		return nil, fmt.Errorf("bad root hash %q: %w", rootArg, err)
	}
	root, err := digest.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("bad root hash %q: %w", rootArg, err)
	}
	return mst.Open(cctx.Context, root, e.opts, []byte(cctx.String("prefix")), e.store)
}

var cmdInit = &cli.Command{
	Name:  "init",
	Usage: "create and commit an empty tree, printing its root hash",
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		tree, err := mst.NewEmpty(e.opts, []byte(cctx.String("prefix")), e.store)
		if err != nil {
			return err
		}
		root, err := tree.Commit(cctx.Context)
		if err != nil {
			return err
		}
		e.log.Infow("initialized empty tree", "degree", tree.Degree(), "maxCount", tree.MaxCount())
		fmt.Println(root.String())
		return nil
	},
}

var cmdSet = &cli.Command{
	Name:  "set",
	Usage: "stage one value and commit, printing the new root hash",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "id", Required: true},
		&cli.StringFlag{Name: "value", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		tree, err := e.openTree(cctx)
		if err != nil {
			return err
		}
		if err := tree.Set(cctx.Context, cctx.Int64("id"), []byte(cctx.String("value"))); err != nil {
			return err
		}
		root, err := tree.Commit(cctx.Context)
		if err != nil {
			return err
		}
		e.log.Infow("committed", "id", cctx.Int64("id"), "count", tree.Count())
		fmt.Println(root.String())
		return nil
	},
}

var cmdGet = &cli.Command{
	Name:  "get",
	Usage: "print the value at an id",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "id", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		tree, err := e.openTree(cctx)
		if err != nil {
			return err
		}
		v, err := tree.Get(cctx.Context, cctx.Int64("id"))
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("id %d is not populated", cctx.Int64("id"))
		}
		fmt.Printf("%s\n", v)
		return nil
	},
}

var cmdProof = &cli.Command{
	Name:  "proof",
	Usage: "print the merkle proof path for an id",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "id", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		tree, err := e.openTree(cctx)
		if err != nil {
			return err
		}
		proof, err := tree.GetProof(cctx.Context, cctx.Int64("id"))
		if err != nil {
			return err
		}
		if proof == nil {
			return fmt.Errorf("id %d is not populated", cctx.Int64("id"))
		}
		for _, h := range proof.Digests() {
			fmt.Println(h.String())
		}
		return nil
	},
}

var cmdCount = &cli.Command{
	Name:  "count",
	Usage: "print the number of populated ids",
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		tree, err := e.openTree(cctx)
		if err != nil {
			return err
		}
		fmt.Println(tree.Count())
		return nil
	},
}

var cmdList = &cli.Command{
	Name:  "list",
	Usage: "walk populated ids in order",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "skip", Usage: "entries to skip before printing"},
		&cli.Int64Flag{Name: "limit", Usage: "max entries to print (0 = all)"},
	},
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		tree, err := e.openTree(cctx)
		if err != nil {
			return err
		}

		it := tree.Iterator()
		if skip := cctx.Int64("skip"); skip > 0 {
			if _, err := it.Skip(cctx.Context, skip); err != nil {
				return err
			}
		}
		limit := cctx.Int64("limit")
		var printed int64
		for it.HasNext() {
			if limit > 0 && printed >= limit {
				break
			}
			entry, err := it.Next(cctx.Context)
			if err != nil {
				return err
			}
			fmt.Printf("%d\t%s\n", entry.ID, entry.Value)
			printed++
		}
		return nil
	},
}
