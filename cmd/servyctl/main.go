/*
Command servyctl is the operator-facing façade binary: install, uninstall,
start, stop, restart, status, list, search, export, and import, each a thin
urfave/cli/v2 subcommand wired to internal/servicemgr.Manager and
internal/store.Store.
*/
package main // import "cirello.io/servy/cmd/servyctl"

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"cirello.io/servy/internal/platform"
	"cirello.io/servy/internal/secureconfig"
	"cirello.io/servy/internal/servicemgr"
	"cirello.io/servy/internal/servydef"
	"cirello.io/servy/internal/store"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	app := &cli.App{
		Name:    "servyctl",
		Usage:   "manage services wrapped by servyhost",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Value: defaultDataDir(), Usage: "directory holding the store and sealed secrets"},
			&cli.StringFlag{Name: "host-exe", Value: defaultHostExePath(), Usage: "path to the servyhost executable"},
		},
		Commands: []*cli.Command{
			installCommand(),
			uninstallCommand(),
			startCommand(),
			stopCommand(),
			restartCommand(),
			statusCommand(),
			listCommand(),
			searchCommand(),
			exportCommand(),
			importCommand(),
		},
	}

	if err := app.Run(argv); err != nil {
		fmt.Fprintf(os.Stderr, "servyctl: %v\n", err)
		return 1
	}
	return 0
}

func defaultDataDir() string {
	if dir := os.Getenv("SERVY_DATA_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "servy")
}

func defaultHostExePath() string {
	self, err := os.Executable()
	if err != nil {
		return "servyhost"
	}
	return filepath.Join(filepath.Dir(self), "servyhost"+filepath.Ext(self))
}

// openManager wires the façade from a cli.Context's global flags: the bbolt
// store, the secure-data engine over two sealed-secret files, the SCM
// adapter, and the credential validator, all chosen per build via the
// platform package's per-OS constructors.
func openManager(c *cli.Context) (*servicemgr.Manager, *store.Store, func(), error) {
	dataDir := c.String("data-dir")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, nil, err
	}

	sink := platform.NewEventSink("Servy")
	engine, err := secureconfig.Open(
		platform.NewSecretSealer(),
		filepath.Join(dataDir, "master.key"),
		filepath.Join(dataDir, "legacy.iv"),
		sink,
		"servyctl",
	)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.Open(filepath.Join(dataDir, "servy.db"), engine)
	if err != nil {
		engine.Close()
		return nil, nil, nil, err
	}

	mgr := &servicemgr.Manager{
		Control:        platform.NewServiceControl(),
		Credentials:    platform.NewCredentialValidator(),
		Store:          st,
		HostExecutable: c.String("host-exe"),
	}

	cleanup := func() {
		st.Close()
		engine.Close()
	}
	return mgr, st, cleanup, nil
}

func installCommand() *cli.Command {
	return &cli.Command{
		Name:      "install",
		Usage:     "register a new service from a JSON definition file",
		ArgsUsage: "<definition.json>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("install requires exactly one argument: a definition JSON file", 1)
			}
			raw, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			var def servydef.Definition
			if err := json.Unmarshal(raw, &def); err != nil {
				return err
			}

			mgr, _, cleanup, err := openManager(c)
			if err != nil {
				return err
			}
			defer cleanup()

			installed, err := mgr.Install(context.Background(), def)
			if err != nil {
				return err
			}
			fmt.Printf("installed %s (id=%d)\n", installed.Name, installed.ID)
			return nil
		},
	}
}

func uninstallCommand() *cli.Command {
	return &cli.Command{
		Name:      "uninstall",
		Usage:     "stop (if running) and remove a service",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withManagerAndName(c, func(mgr *servicemgr.Manager, name string) error {
				if err := mgr.Uninstall(context.Background(), name); err != nil {
					return err
				}
				fmt.Printf("uninstalled %s\n", name)
				return nil
			})
		},
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withManagerAndName(c, func(mgr *servicemgr.Manager, name string) error {
				if err := mgr.Start(context.Background(), name); err != nil {
					return err
				}
				fmt.Printf("started %s\n", name)
				return nil
			})
		},
	}
}

func stopCommand() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withManagerAndName(c, func(mgr *servicemgr.Manager, name string) error {
				if err := mgr.Stop(context.Background(), name); err != nil {
					return err
				}
				fmt.Printf("stopped %s\n", name)
				return nil
			})
		},
	}
}

func restartCommand() *cli.Command {
	return &cli.Command{
		Name:      "restart",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withManagerAndName(c, func(mgr *servicemgr.Manager, name string) error {
				if err := mgr.Restart(context.Background(), name); err != nil {
					return err
				}
				fmt.Printf("restarted %s\n", name)
				return nil
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			return withManagerAndName(c, func(mgr *servicemgr.Manager, name string) error {
				status, err := mgr.Status(context.Background(), name)
				if err != nil {
					return err
				}
				fmt.Println(status)
				return nil
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list every installed service definition",
		Action: func(c *cli.Context) error {
			_, st, cleanup, err := openManager(c)
			if err != nil {
				return err
			}
			defer cleanup()
			defs, err := st.ListAll(context.Background())
			if err != nil {
				return err
			}
			for _, d := range defs {
				fmt.Printf("%d\t%s\t%s\n", d.ID, d.Name, d.StartupType)
			}
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		ArgsUsage: "<substring>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("search requires exactly one argument", 1)
			}
			_, st, cleanup, err := openManager(c)
			if err != nil {
				return err
			}
			defer cleanup()
			defs, err := st.Search(context.Background(), c.Args().First())
			if err != nil {
				return err
			}
			for _, d := range defs {
				fmt.Printf("%d\t%s\t%s\n", d.ID, d.Name, d.Description)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "xml", Usage: "export as XML instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("export requires exactly one argument: the service name", 1)
			}
			_, st, cleanup, err := openManager(c)
			if err != nil {
				return err
			}
			defer cleanup()

			name := c.Args().First()
			var out string
			if c.Bool("xml") {
				out, err = st.ExportXML(context.Background(), name)
			} else {
				out, err = st.ExportJSON(context.Background(), name)
			}
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		ArgsUsage: "<file.json|file.xml>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("import requires exactly one argument: a definition file", 1)
			}
			path := c.Args().First()
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			_, st, cleanup, err := openManager(c)
			if err != nil {
				return err
			}
			defer cleanup()

			var ok bool
			if filepath.Ext(path) == ".xml" {
				ok = st.ImportXML(context.Background(), string(raw))
			} else {
				ok = st.ImportJSON(context.Background(), string(raw))
			}
			if !ok {
				return cli.Exit("import failed: invalid or malformed definition", 1)
			}
			fmt.Println("imported", path)
			return nil
		},
	}
}

func withManagerAndName(c *cli.Context, fn func(mgr *servicemgr.Manager, name string) error) error {
	if c.NArg() != 1 {
		return cli.Exit(fmt.Sprintf("%s requires exactly one argument: the service name", c.Command.Name), 1)
	}
	mgr, _, cleanup, err := openManager(c)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(mgr, c.Args().First())
}
