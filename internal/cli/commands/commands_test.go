package commands

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"drivefs/internal/contentserver"
	"drivefs/internal/storage"
)

// resetFlags clears flag state cobra keeps between in-process runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Changed = false
		if _, ok := f.Value.(pflag.SliceValue); !ok {
			f.Value.Set(f.DefValue)
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command in-process and returns what it printed
// to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	seedIncludes, seedExcludes = nil, nil

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	out := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		out <- buf.String()
	}()

	rootCmd.SetArgs(args)
	runErr := rootCmd.ExecuteContext(context.Background())
	w.Close()
	return <-out, runErr
}

// newCLIEnv isolates the config directory and starts a contents service.
func newCLIEnv(t *testing.T) (string, *storage.Store) {
	t.Helper()
	t.Setenv("DRIVEFS_CONFIG_DIR", t.TempDir())
	t.Setenv("DRIVEFS_BASE_URL", "")
	t.Setenv("DRIVEFS_TOKEN", "")
	t.Chdir(t.TempDir())

	store, err := storage.Open(filepath.Join(t.TempDir(), "contents.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ts := httptest.NewServer(contentserver.New(contentserver.Config{Store: store}))
	t.Cleanup(ts.Close)
	return ts.URL + "/", store
}

func TestVersionString(t *testing.T) {
	g := NewWithT(t)

	g.Expect(formatBuildDate("0")).To(Equal(time.Unix(0, 0).Format("2006-01-02")))
	g.Expect(formatBuildDate("unknown")).To(Equal("unknown"))

	version, commit, date = "1.2.3-dev", "abc123", "unknown"
	g.Expect(getVersionString()).To(Equal("1.2.3-dev (unknown, epoch: unknown, commit: abc123)"))

	version = "1.2.3"
	g.Expect(getVersionString()).To(Equal("1.2.3 (unknown)"))
}

func TestFileMode(t *testing.T) {
	g := NewWithT(t)
	g.Expect(fileMode(16895)).To(Equal(os.ModeDir | 0o777))
	g.Expect(fileMode(33206)).To(Equal(os.FileMode(0o666)))
}

func TestSeedLsCatStat(t *testing.T) {
	g := NewWithT(t)
	baseURL, store := newCLIEnv(t)

	local := t.TempDir()
	g.Expect(os.MkdirAll(filepath.Join(local, "docs"), 0o755)).To(Succeed())
	g.Expect(os.WriteFile(filepath.Join(local, "docs", "a.txt"), []byte("alpha\n"), 0o644)).To(Succeed())
	g.Expect(os.WriteFile(filepath.Join(local, "b.md"), []byte("# beta\n"), 0o644)).To(Succeed())

	out, err := runCLI(t, "seed", local, "--dest", "/proj", "--base-url", baseURL, "--log-file", "-")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(ContainSubstring("Uploaded 2 files"))

	content, _, err := store.Get(context.Background(), "/proj/docs/a.txt")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(content).To(Equal("alpha\n"))

	out, err = runCLI(t, "ls", "/proj", "--base-url", baseURL, "--log-file", "-")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(Equal("b.md\ndocs\n"))

	out, err = runCLI(t, "ls", "/proj", "-a", "--base-url", baseURL, "--log-file", "-")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(Equal("b.md\ndocs\n.\n..\n"))

	out, err = runCLI(t, "ls", "proj", "-l", "--base-url", baseURL, "--log-file", "-")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(ContainSubstring("drwxrwxrwx"))
	g.Expect(out).To(ContainSubstring("b.md"))

	out, err = runCLI(t, "cat", "/proj/docs/a.txt", "/proj/b.md", "--base-url", baseURL, "--log-file", "-")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(Equal("alpha\n# beta\n"))

	out, err = runCLI(t, "stat", "/proj/b.md", "--base-url", baseURL, "--log-file", "-")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(ContainSubstring("Path: /drive/proj/b.md"))
	g.Expect(out).To(ContainSubstring("Type: regular file"))
	g.Expect(out).To(ContainSubstring("Size: 7"))

	_, err = runCLI(t, "cat", "/missing", "--base-url", baseURL, "--log-file", "-")
	g.Expect(err).To(HaveOccurred())
}

func TestBaseURLFromEnv(t *testing.T) {
	g := NewWithT(t)
	baseURL, _ := newCLIEnv(t)

	t.Setenv("DRIVEFS_BASE_URL", baseURL)
	out, err := runCLI(t, "ls", "--log-file", "-")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(out).To(BeEmpty())
}

func TestUnreachableService(t *testing.T) {
	g := NewWithT(t)
	newCLIEnv(t)

	_, err := runCLI(t, "ls", "--base-url", "http://127.0.0.1:1/", "--log-file", "-")
	g.Expect(err).To(HaveOccurred())
}
