package flags

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

// TestBetaFlags test that all flags starting with "beta." have "BETA_" in the env var, and vice versa.
func TestBetaFlags(t *testing.T) {
	for _, flag := range Flags {
		envFlag, ok := flag.(interface {
			GetEnvVars() []string
		})
		if !ok || len(envFlag.GetEnvVars()) == 0 { // skip flags without env-var support
			continue
		}
		name := flag.Names()[0]
		envName := envFlag.GetEnvVars()[0]
		if strings.HasPrefix(name, "beta.") {
			require.Contains(t, envName, "BETA_", "%q flag must contain BETA in env var to match \"beta.\" flag name", name)
		}
		if strings.Contains(envName, "BETA_") {
			require.True(t, strings.HasPrefix(name, "beta."), "%q flag must start with \"beta.\" in flag name to match \"BETA_\" env var", name)
		}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")

			expectedEnvVar := opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix)
			require.Equal(t, expectedEnvVar, envFlags[0])
		})
	}
}

// appFlags returns copies of Flags. urfave/cli stores env-applied values on
// the flag structs, so apps in tests must not share them.
func appFlags(t *testing.T) []cli.Flag {
	t.Helper()
	out := make([]cli.Flag, 0, len(Flags))
	for _, f := range Flags {
		v := reflect.ValueOf(f)
		require.Equal(t, reflect.Pointer, v.Kind(), "flag %s must be a pointer", f.Names()[0])
		c := reflect.New(v.Elem().Type())
		c.Elem().Set(v.Elem())
		out = append(out, c.Interface().(cli.Flag))
	}
	return out
}

func TestDefaults(t *testing.T) {
	app := &cli.App{
		Flags: appFlags(t),
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, 2, ctx.Int(MaxAttempts.Name))
			assert.Equal(t, 10*time.Minute, ctx.Duration(DefaultTimeout.Name))
			assert.Equal(t, "reports", ctx.String(ReportsDir.Name))
			assert.True(t, ctx.Bool(CaptureEnabled.Name))
			assert.False(t, ctx.Bool(CaptureForce.Name))
			assert.True(t, ctx.Bool(Screenshots.Name))
			assert.Equal(t, "ffmpeg", ctx.String(CaptureFFmpeg.Name))
			return CheckRequired(ctx)
		},
	}
	require.NoError(t, app.Run([]string{"op-witness", "--testdir", "./uitests"}))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OP_WITNESS_TESTDIR", "./uitests")
	t.Setenv("OP_WITNESS_MAX_ATTEMPTS", "3")
	t.Setenv("OP_WITNESS_CAPTURE_FORCE", "true")

	app := &cli.App{
		Flags: appFlags(t),
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, "./uitests", ctx.String(TestDir.Name))
			assert.Equal(t, 3, ctx.Int(MaxAttempts.Name))
			assert.True(t, ctx.Bool(CaptureForce.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"op-witness"}))
}

func TestMissingTestDir(t *testing.T) {
	// an earlier env override must not satisfy the required flag
	t.Setenv("OP_WITNESS_TESTDIR", "./uitests")
	envApp := &cli.App{
		Flags:  appFlags(t),
		Action: func(ctx *cli.Context) error { return nil },
	}
	require.NoError(t, envApp.Run([]string{"op-witness"}))
	require.NoError(t, os.Unsetenv("OP_WITNESS_TESTDIR"))

	app := &cli.App{
		Flags:  appFlags(t),
		Action: func(ctx *cli.Context) error { return nil },
	}
	err := app.Run([]string{"op-witness"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testdir")
}
