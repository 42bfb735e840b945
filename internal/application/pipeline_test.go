package application

import (
	"strings"
	"testing"

	"github.com/relforge/relforge/internal/domain"
)

func testSpec(artifactDir string) PipelineSpec {
	return PipelineSpec{
		Tool:            "notelint",
		PinnedToolchain: "1.79.0",
		TestOSes:        []string{"linux", "macos", "windows"},
		TestChannels:    []string{"stable", "nightly"},
		Targets: []domain.Target{
			{Triple: "x86_64-unknown-linux-gnu", OS: "linux", Format: domain.FormatTarGz},
			{Triple: "x86_64-apple-darwin", OS: "macos", Format: domain.FormatTarGz},
			{Triple: "x86_64-pc-windows-msvc", OS: "windows", Format: domain.FormatZip},
		},
		Commands: CommandSet{
			Check:     "cargo check --workspace",
			Format:    "cargo fmt --all -- --check",
			Lint:      "cargo clippy -- -D warnings",
			Audit:     "cargo audit",
			Test:      "cargo +{toolchain} test --all-features",
			Toolchain: "rustup target add {target} --toolchain {toolchain}",
			Build:     "cargo build --release --target {target}",
			Strip:     "strip {binary}",
			Publish:   "cargo publish --locked",
		},
		Binary:        "target/{target}/release/{tool}{exe}",
		ArtifactDir:   artifactDir,
		RegistryToken: "registry-secret",
	}
}

func TestBuildGraph_NodeCountAndIDs(t *testing.T) {
	g, err := BuildGraph(testSpec(t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Len() != 15 {
		t.Fatalf("expected 15 jobs (4 verify + 6 test + 3 build + 2 publish), got %d", g.Len())
	}

	for _, id := range []string{
		JobCheck, JobFormat, JobLint, JobAudit,
		TestJobID("linux", "stable"), TestJobID("linux", "nightly"),
		TestJobID("macos", "stable"), TestJobID("macos", "nightly"),
		TestJobID("windows", "stable"), TestJobID("windows", "nightly"),
		BuildJobID("x86_64-unknown-linux-gnu"),
		BuildJobID("x86_64-apple-darwin"),
		BuildJobID("x86_64-pc-windows-msvc"),
		JobReleasePublish, JobPackagePublish,
	} {
		if _, ok := g.Job(id); !ok {
			t.Errorf("missing job %q", id)
		}
	}
}

func TestBuildGraph_Edges(t *testing.T) {
	g, err := BuildGraph(testSpec(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	format, _ := g.Job(JobFormat)
	if len(format.Needs) != 1 || format.Needs[0] != JobCheck {
		t.Errorf("verify/format must need only verify/check, got %v", format.Needs)
	}

	cell, _ := g.Job(TestJobID("macos", "nightly"))
	if len(cell.Needs) != 1 || cell.Needs[0] != JobCheck {
		t.Errorf("test cells must need only verify/check, got %v", cell.Needs)
	}

	rel, _ := g.Job(JobReleasePublish)
	if len(rel.Needs) != 9 {
		t.Errorf("release/publish must need 6 test cells + 3 build cells, got %d", len(rel.Needs))
	}
	if rel.Condition != domain.CondTagOnly {
		t.Error("release/publish must be tag gated")
	}

	pkg, _ := g.Job(JobPackagePublish)
	if len(pkg.Needs) != 6 {
		t.Errorf("package/publish must need the 6 test cells only, got %d", len(pkg.Needs))
	}
	for _, need := range pkg.Needs {
		if !strings.HasPrefix(need, "test/") {
			t.Errorf("package/publish needs non-test job %q", need)
		}
	}

	if _, err := g.TopoSort(); err != nil {
		t.Fatalf("graph must be acyclic: %v", err)
	}
}

func TestBuildGraph_BuildCells(t *testing.T) {
	g, err := BuildGraph(testSpec(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	linux, _ := g.Job(BuildJobID("x86_64-unknown-linux-gnu"))
	if linux.Binary != "target/x86_64-unknown-linux-gnu/release/notelint" {
		t.Errorf("unexpected linux binary path %q", linux.Binary)
	}
	if got := linux.Target.ArtifactName("notelint"); got != "notelint-x86_64-unknown-linux-gnu.tar.gz" {
		t.Errorf("unexpected artifact name %q", got)
	}

	win, _ := g.Job(BuildJobID("x86_64-pc-windows-msvc"))
	if win.Binary != "target/x86_64-pc-windows-msvc/release/notelint.exe" {
		t.Errorf("windows binary must carry .exe, got %q", win.Binary)
	}
	if got := win.Target.ArtifactName("notelint"); got != "notelint-x86_64-pc-windows-msvc.zip" {
		t.Errorf("windows artifact must be a zip, got %q", got)
	}

	foundBuild := false
	for _, cmd := range linux.Commands {
		if strings.Contains(cmd.Line, "--target x86_64-unknown-linux-gnu") {
			foundBuild = true
		}
	}
	if !foundBuild {
		t.Error("build cell commands missing expanded --target")
	}
}

// Credentials must be scoped to the jobs that use them, never ambient.
func TestBuildGraph_CredentialScoping(t *testing.T) {
	g, err := BuildGraph(testSpec(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	for _, j := range g.Jobs() {
		for _, cmd := range j.Commands {
			_, hasToken := cmd.Env["REGISTRY_TOKEN"]
			if hasToken && j.ID != JobPackagePublish {
				t.Errorf("registry token leaked into job %q", j.ID)
			}
			if j.ID == JobPackagePublish && !hasToken {
				t.Error("package/publish command missing registry token")
			}
		}
	}
}
