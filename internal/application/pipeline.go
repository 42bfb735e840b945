package application

import (
	"fmt"
	"strings"

	"github.com/relforge/relforge/internal/domain"
)

// CommandSet holds the shell command templates the pipeline invokes. The
// tool's own build system is an external collaborator; relforge only knows
// that each command exits nonzero on failure. Templates may reference
// {tool}, {toolchain}, {channel}, {os}, {target} and {binary}.
type CommandSet struct {
	Check     string
	Format    string
	Lint      string
	Audit     string
	Test      string
	Toolchain string
	Build     string
	Strip     string
	Publish   string
}

// PipelineSpec carries everything needed to instantiate the job graph for
// one workspace. Credentials live here so they can be attached to exactly
// the jobs that need them, never ambiently.
type PipelineSpec struct {
	Tool            string
	PinnedToolchain string
	TestOSes        []string
	TestChannels    []string
	Targets         []domain.Target
	Commands        CommandSet

	// Binary is the template for the per-target executable path, e.g.
	// "target/{target}/release/{tool}{exe}".
	Binary      string
	ArtifactDir string

	RegistryToken string
}

const (
	JobCheck          = "verify/check"
	JobFormat         = "verify/format"
	JobLint           = "verify/lint"
	JobAudit          = "verify/audit"
	JobReleasePublish = "release/publish"
	JobPackagePublish = "package/publish"
)

// TestJobID returns the stable node ID of one test matrix cell.
func TestJobID(os, channel string) string {
	return "test/" + os + "-" + channel
}

// BuildJobID returns the stable node ID of one release build cell.
func BuildJobID(triple string) string {
	return "build/" + triple
}

// BuildGraph instantiates the full pipeline DAG: verification fan-out, test
// matrix, tag-gated release build matrix, release publish and package
// publish. Gated nodes are always present; whether they run is decided per
// event by their condition.
func BuildGraph(spec PipelineSpec) (*domain.Graph, error) {
	if spec.Tool == "" {
		return nil, fmt.Errorf("pipeline: tool name is required")
	}
	if len(spec.Targets) == 0 {
		return nil, fmt.Errorf("pipeline: no release targets configured")
	}
	if len(spec.TestOSes) == 0 || len(spec.TestChannels) == 0 {
		return nil, fmt.Errorf("pipeline: empty test matrix")
	}

	g := domain.NewGraph()
	pinnedEnv := map[string]string{"RELFORGE_TOOLCHAIN": spec.PinnedToolchain}

	verify := []*domain.Job{
		{
			ID:    JobCheck,
			Stage: domain.StageVerify,
			Kind:  domain.KindCommand,
			Commands:    []domain.Command{{Line: expand(spec.Commands.Check, spec, "", "", ""), Env: pinnedEnv}},
			Condition:   domain.CondAlways,
			FailureKind: domain.BuildFailure,
		},
		{
			ID:          JobFormat,
			Stage:       domain.StageVerify,
			Kind:        domain.KindCommand,
			Needs:       []string{JobCheck},
			Commands:    []domain.Command{{Line: expand(spec.Commands.Format, spec, "", "", ""), Env: pinnedEnv}},
			Condition:   domain.CondAlways,
			FailureKind: domain.FormatViolation,
		},
		{
			ID:          JobLint,
			Stage:       domain.StageVerify,
			Kind:        domain.KindCommand,
			Needs:       []string{JobCheck},
			Commands:    []domain.Command{{Line: expand(spec.Commands.Lint, spec, "", "", ""), Env: pinnedEnv}},
			Condition:   domain.CondAlways,
			FailureKind: domain.LintViolation,
		},
		{
			ID:          JobAudit,
			Stage:       domain.StageVerify,
			Kind:        domain.KindCommand,
			Needs:       []string{JobCheck},
			Commands:    []domain.Command{{Line: expand(spec.Commands.Audit, spec, "", "", ""), Env: pinnedEnv}},
			Condition:   domain.CondAlways,
			FailureKind: domain.SecurityAdvisory,
		},
	}
	for _, j := range verify {
		if err := g.Add(j); err != nil {
			return nil, err
		}
	}

	var testIDs []string
	for _, osName := range spec.TestOSes {
		for _, channel := range spec.TestChannels {
			id := TestJobID(osName, channel)
			testIDs = append(testIDs, id)
			job := &domain.Job{
				ID:    id,
				Stage: domain.StageTest,
				Kind:  domain.KindCommand,
				Needs: []string{JobCheck},
				Commands: []domain.Command{{
					Line: expand(spec.Commands.Test, spec, channel, osName, ""),
					Env: map[string]string{
						"RELFORGE_OS":        osName,
						"RELFORGE_TOOLCHAIN": channel,
					},
				}},
				Condition:   domain.CondAlways,
				FailureKind: domain.TestFailure,
			}
			if err := g.Add(job); err != nil {
				return nil, err
			}
		}
	}

	var buildIDs []string
	for _, target := range spec.Targets {
		id := BuildJobID(target.Triple)
		buildIDs = append(buildIDs, id)
		binary := binaryPath(spec, target)
		job := &domain.Job{
			ID:    id,
			Stage: domain.StageBuild,
			Kind:  domain.KindBuild,
			Needs: append([]string(nil), testIDs...),
			Commands: []domain.Command{
				{Line: expand(spec.Commands.Toolchain, spec, spec.PinnedToolchain, target.OS, target.Triple)},
				{Line: expand(spec.Commands.Build, spec, spec.PinnedToolchain, target.OS, target.Triple)},
				{Line: expandBinary(spec.Commands.Strip, spec, target, binary)},
			},
			Condition:   domain.CondTagOnly,
			Target:      target,
			Binary:      binary,
			FailureKind: domain.BuildFailure,
		}
		if err := g.Add(job); err != nil {
			return nil, err
		}
	}

	release := &domain.Job{
		ID:          JobReleasePublish,
		Stage:       domain.StageRelease,
		Kind:        domain.KindReleasePublish,
		Needs:       append(append([]string(nil), testIDs...), buildIDs...),
		Condition:   domain.CondTagOnly,
		FailureKind: domain.PublishRejection,
	}
	if err := g.Add(release); err != nil {
		return nil, err
	}

	pkg := &domain.Job{
		ID:    JobPackagePublish,
		Stage: domain.StagePackage,
		Kind:  domain.KindCommand,
		Needs: append([]string(nil), testIDs...),
		Commands: []domain.Command{{
			Line: expand(spec.Commands.Publish, spec, "", "", ""),
			Env:  map[string]string{"REGISTRY_TOKEN": spec.RegistryToken},
		}},
		Condition:   domain.CondTagOnly,
		FailureKind: domain.PublishRejection,
	}
	if err := g.Add(pkg); err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func binaryPath(spec PipelineSpec, target domain.Target) string {
	exe := ""
	if target.OS == "windows" {
		exe = ".exe"
	}
	p := expand(spec.Binary, spec, "", target.OS, target.Triple)
	return strings.ReplaceAll(p, "{exe}", exe)
}

func expand(tmpl string, spec PipelineSpec, channel, osName, triple string) string {
	toolchain := channel
	if toolchain == "" {
		toolchain = spec.PinnedToolchain
	}
	r := strings.NewReplacer(
		"{tool}", spec.Tool,
		"{toolchain}", toolchain,
		"{channel}", channel,
		"{os}", osName,
		"{target}", triple,
	)
	return r.Replace(tmpl)
}

func expandBinary(tmpl string, spec PipelineSpec, target domain.Target, binary string) string {
	out := expand(tmpl, spec, "", target.OS, target.Triple)
	return strings.ReplaceAll(out, "{binary}", binary)
}
