// The obscache tool is an operational wrapper around the cache library:
// list released manifest versions, inspect a manifest and its tables, and
// resolve or prefetch record artifacts into a local cache directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/neurodata/obscache/manifest"
	"github.com/neurodata/obscache/metadata"
	"github.com/neurodata/obscache/project"
	"github.com/neurodata/obscache/store"
)

// various command line flags, with default values

var (
	configFile  = flag.String("config", "", "path to a TOML configuration file")
	bucket      = flag.String("bucket", "", "S3 bucket holding the releases")
	prefix      = flag.String("prefix", "", "key prefix inside the bucket")
	srcdir      = flag.String("src", "", "read releases from a local directory instead of S3")
	mirrordir   = flag.String("mirror", "", "local directory consulted before the remote store")
	cachedir    = flag.String("dir", "", "cache directory (default ~/.obscache/<project>)")
	projectName = flag.String("project", "", "released dataset name")
	release     = flag.String("release", "", "manifest version to use (default latest)")
	skipcheck   = flag.Bool("skipcheck", false, "skip the pipeline compatibility check")
	compatFile  = flag.String("compat", "", "TOML compatibility table overriding the built-in one")
	ndownloads  = flag.Int("dl", 4, "number of simultaneous downloads")
	usage       = `
obscache <flags> <command> <command arguments>

Possible commands:

    versions
    manifest
    tables
    table <table name>
    resolve <record type> <record id>
    get <record type> <record id>
    invalidate <file id>

`
)

// config mirrors the command line flags so routine settings can live in a
// file. Flags given on the command line win.
type config struct {
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`
	Src      string `toml:"src"`
	Mirror   string `toml:"mirror"`
	CacheDir string `toml:"cache_dir"`
	Project  string `toml:"project"`
	Release  string `toml:"release"`
	Compat   string `toml:"compat"`
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Println(usage)
		return
	}
	if *configFile != "" {
		loadConfig(*configFile)
	}
	if *projectName == "" {
		die("a project name is required (-project or the config file)")
	}

	s := openStore()
	switch args[0] {
	case "versions":
		doVersions(s)
	case "manifest":
		doManifest(s)
	case "tables":
		doTables(s)
	case "table":
		if len(args) != 2 {
			die("Usage: obscache <flags> table <table name>")
		}
		doTable(s, args[1])
	case "resolve":
		if len(args) != 3 {
			die("Usage: obscache <flags> resolve <record type> <record id>")
		}
		doResolve(s, args[1], parseID(args[2]))
	case "get":
		if len(args) != 3 {
			die("Usage: obscache <flags> get <record type> <record id>")
		}
		doGet(s, args[1], parseID(args[2]))
	case "invalidate":
		if len(args) != 2 {
			die("Usage: obscache <flags> invalidate <file id>")
		}
		doInvalidate(s, args[1])
	default:
		fmt.Println(usage)
	}
}

// loadConfig fills in any flag the command line left at its default.
func loadConfig(path string) {
	var c config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		die("reading %s: %s", path, err)
	}
	fill := func(target *string, value string) {
		if *target == "" {
			*target = value
		}
	}
	fill(bucket, c.Bucket)
	fill(prefix, c.Prefix)
	fill(srcdir, c.Src)
	fill(mirrordir, c.Mirror)
	fill(cachedir, c.CacheDir)
	fill(projectName, c.Project)
	fill(release, c.Release)
	fill(compatFile, c.Compat)
}

// openStore builds the read side: S3 or a local directory, optionally
// overlaid with a local mirror that is consulted first.
func openStore() store.ROStore {
	var s store.ROStore
	switch {
	case *srcdir != "":
		s = store.NewFileSystem(*srcdir)
		if *prefix != "" {
			s = store.NewWithPrefix(s, *prefix)
		}
	case *bucket != "":
		s = store.NewS3(*bucket, *prefix, session.Must(session.NewSession()))
	default:
		die("either -bucket or -src is required")
	}
	if *mirrordir != "" {
		s = store.NewUnion(store.NewFileSystem(*mirrordir), s)
	}
	return s
}

func openSession(s store.ROStore) *project.Cache {
	dir := *cachedir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			die("no cache directory given and no home directory: %s", err)
		}
		dir = filepath.Join(home, ".obscache", *projectName)
	}
	var checker *manifest.Checker
	if *compatFile != "" {
		table, err := manifest.LoadCompatTable(*compatFile)
		if err != nil {
			die("%s", err)
		}
		checker = manifest.NewChecker()
		checker.Table = table
	}
	c, err := project.New(s, project.Options{
		Project:          *projectName,
		Version:          *release,
		CacheDir:         dir,
		SkipVersionCheck: *skipcheck,
		Checker:          checker,
		MaxDownloads:     *ndownloads,
	})
	if err != nil {
		die("%s", err)
	}
	return c
}

func doVersions(s store.ROStore) {
	cat := manifest.NewCatalog(s, *projectName)
	versions, err := cat.Versions()
	if err != nil {
		die("%s", err)
	}
	for i, v := range versions {
		if i == len(versions)-1 {
			fmt.Printf("%s\t(latest)\n", v)
		} else {
			fmt.Println(v)
		}
	}
}

func doManifest(s store.ROStore) {
	m := loadManifest(s)
	fmt.Printf("project:\t%s\n", m.Project)
	fmt.Printf("version:\t%s\n", m.Version)
	fmt.Printf("file id column:\t%s\n", m.FileIDColumn)
	for _, p := range m.Pipeline {
		fmt.Printf("pipeline:\t%s %s\n", p.Name, p.Version)
	}
	for _, name := range m.TableNames() {
		fmt.Printf("table:\t%s\n", name)
	}
	fmt.Printf("data files:\t%d\n", len(m.DataFiles))
}

func doTables(s store.ROStore) {
	m := loadManifest(s)
	for _, name := range m.TableNames() {
		fmt.Println(name)
	}
}

func doTable(s store.ROStore, name string) {
	c := openSession(s)
	tab, err := c.Table(name)
	if err != nil {
		die("%s", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for i, col := range tab.Columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col)
	}
	fmt.Fprintln(w)
	for i := 0; i < tab.Len(); i++ {
		row := tab.Row(i)
		for j, col := range tab.Columns {
			if j > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, formatCell(row[col]))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}

func doResolve(s store.ROStore, recordType string, id int64) {
	c := openSession(s)
	fileID, err := c.Resolve(recordType, id)
	if err != nil {
		die("%s", err)
	}
	rec, _ := c.Manifest().DataFile(fileID)
	fmt.Printf("%s\t%s\n", fileID, rec.Key)
}

func doGet(s store.ROStore, recordType string, id int64) {
	c := openSession(s)
	path, err := c.ArtifactPath(recordType, id)
	if err != nil {
		die("%s", err)
	}
	fmt.Println(path)
}

func doInvalidate(s store.ROStore, fileID string) {
	c := openSession(s)
	if err := c.Invalidate(fileID); err != nil {
		die("%s", err)
	}
}

func loadManifest(s store.ROStore) *manifest.Manifest {
	cat := manifest.NewCatalog(s, *projectName)
	version := *release
	if version == "" {
		var err error
		version, err = cat.LatestVersion()
		if err != nil {
			die("%s", err)
		}
	}
	m, err := cat.Load(version)
	if err != nil {
		die("%s", err)
	}
	return m
}

func formatCell(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := metadata.AsString(v); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		die("record id %q is not an integer", s)
	}
	return id
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
