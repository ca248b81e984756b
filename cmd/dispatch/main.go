package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/starlake-ai/starlake-data-stack/pkg/buildtime"
	configs "github.com/starlake-ai/starlake-data-stack/pkg/configs/dispatcher"
	"github.com/starlake-ai/starlake-data-stack/pkg/dispatch"
	"github.com/starlake-ai/starlake-data-stack/pkg/kubeutil"
	"github.com/starlake-ai/starlake-data-stack/pkg/logger"
	k8s "github.com/starlake-ai/starlake-data-stack/pkg/workloads/k8s"
	"github.com/starlake-ai/starlake-data-stack/pkg/workloads/kubectl"
	"go.uber.org/zap"
)

const usage = `starlake-dispatch [flags] <command> [--options k=v,...] [args...]`

type Flags struct {
	Config     string
	Mode       string
	Namespace  string
	Template   string
	Kubeconfig string
	DryRun     bool
	Strict     bool
	LogLevel   string
	LogFormat  string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run runs the dispatcher and returns the exit code.
func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	exit := 0
	cmd := newCommand(stdout, stderr, &exit)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "starlake-dispatch: %s\n", err)
		return dispatch.ExitCode(err)
	}
	return exit
}

func newCommand(stdout io.Writer, stderr io.Writer, exit *int) *cobra.Command {
	flags := &Flags{}

	cmd := &cobra.Command{
		Use:   usage,
		Short: "run a starlake command as a Kubernetes Job, or locally",
		Long: `Run a starlake command as a Kubernetes Job (or a local process),
stream its logs to stdout, and exit with the exit code of the command.

Options of --options with keys prefixed by "SL_" are passed as environment variables.
Others are passed to the command as "--options k=v,...".

Flags of the dispatcher should be placed before the command.`,
		Version:       buildtime.VersionString(),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := dispatchCommand(cmd.Context(), flags, args, stdout, stderr)
			*exit = outcome.ExitCode
			return err
		},
	}

	f := cmd.Flags()
	f.SetInterspersed(false)
	f.StringVar(&flags.Config, "config", os.Getenv(configs.EnvConfig), "path to config file. (env: "+configs.EnvConfig+")")
	f.StringVar(&flags.Mode, "mode", "", "how to run: job|local")
	f.StringVar(&flags.Namespace, "namespace", "", "k8s namespace where Jobs are submitted")
	f.StringVar(&flags.Template, "template", "", "path to Job manifest template")
	f.StringVar(&flags.Kubeconfig, "kubeconfig", "", "path to kubeconfig")
	f.BoolVar(&flags.DryRun, "dry-run", false, "print the Job manifest, and do not submit it")
	f.BoolVar(&flags.Strict, "strict", false, "fail when the job disappears before its exit code is observed")
	f.StringVar(&flags.LogLevel, "log-level", "", "log level. debug|info|warn|error")
	f.StringVar(&flags.LogFormat, "log-format", "", "log format. console|json")

	return cmd
}

func dispatchCommand(ctx context.Context, flags *Flags, args []string, stdout io.Writer, stderr io.Writer) (dispatch.Outcome, error) {
	conf, err := loadConfig(flags)
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("%w: %w", dispatch.ErrConfiguration, err)
	}

	log, err := logger.New(conf.Log().Level(), conf.Log().Format(), stderr)
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("%w: %w", dispatch.ErrConfiguration, err)
	}
	defer log.Sync()

	command, cmdArgs, options := dispatch.SplitCommandLine(args)
	inv, err := dispatch.NewInvocation(command, cmdArgs, options, conf.EnvPrefix())
	if err != nil {
		return dispatch.Outcome{}, fmt.Errorf("%w\nusage: %s", err, usage)
	}

	runner, cleanup, err := newRunner(conf, flags, log, stdout, stderr)
	if err != nil {
		return dispatch.Outcome{}, err
	}
	defer cleanup()

	outcome, err := runner.Run(ctx, inv)
	if err != nil {
		return outcome, err
	}
	if outcome.Resolution == dispatch.ResolutionAssumedSuccess {
		log.Warn("exit code was not observed; the job is assumed to be successful. use --strict to fail instead")
	}
	return outcome, nil
}

// loadConfig reads the config file, and overrides it with environmental variables and flags, in order.
//
// Without config file given, the nearest "starlake-dispatch.yaml" from the working directory is used if any.
func loadConfig(flags *Flags) (*configs.Config, error) {
	path := flags.Config
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			if found, err := configs.SearchUpward(wd, configs.DefaultConfigFileName); err == nil {
				path = found
			}
		}
	}

	m, err := configs.Load(path)
	if err != nil {
		return nil, err
	}
	m.OverrideWithEnv(nil)

	if flags.Mode != "" {
		m.Mode = flags.Mode
	}
	if flags.Namespace != "" {
		m.Namespace = flags.Namespace
	}
	if flags.Template != "" || flags.Kubeconfig != "" {
		if m.Job == nil {
			m.Job = &configs.JobConfigMarshall{}
		}
		if flags.Template != "" {
			m.Job.Template = flags.Template
		}
		if flags.Kubeconfig != "" {
			if m.Job.Credentials == nil {
				m.Job.Credentials = &configs.CredentialsConfigMarshall{}
			}
			m.Job.Credentials.Kubeconfig = flags.Kubeconfig
		}
	}
	if flags.LogLevel != "" || flags.LogFormat != "" {
		if m.Log == nil {
			m.Log = &configs.LogConfigMarshall{}
		}
		if flags.LogLevel != "" {
			m.Log.Level = flags.LogLevel
		}
		if flags.LogFormat != "" {
			m.Log.Format = flags.LogFormat
		}
	}

	return configs.Seal(m)
}

// newRunner selects the Runner for the mode.
//
// cleanup releases resources of the Runner. Call it after the Runner is done.
func newRunner(conf *configs.Config, flags *Flags, log *zap.Logger, stdout io.Writer, stderr io.Writer) (_ dispatch.Runner, cleanup func(), _ error) {
	nop := func() {}
	if conf.Mode() == configs.ModeLocal {
		log.Debug("running locally", zap.String("executable", conf.Local().Executable()))
		return dispatch.NewLocalRunner(conf.Local().Executable(), log, stdout, stderr), nop, nil
	}

	jobConf := conf.Job()
	tpl, err := dispatch.LoadTemplate(jobConf.Template())
	if err != nil {
		return nil, nil, err
	}

	options := dispatch.DefaultJobOptions()
	options.Container = jobConf.Container()
	options.Root = conf.Root()
	options.EnvPrefix = conf.EnvPrefix()
	options.PodWaitAttempts = jobConf.PodWait().Attempts()
	options.PodWaitInterval = jobConf.PodWait().Interval()
	options.CompletionTimeout = jobConf.Completion().Timeout()
	options.CompletionInterval = jobConf.Completion().Interval()
	options.Strict = flags.Strict || !jobConf.AssumeSuccessOnDisappearance()
	options.DryRun = flags.DryRun

	if flags.DryRun {
		return dispatch.NewJobRunner(nil, tpl, options, log, stdout), nop, nil
	}

	cluster, cleanup, err := connect(conf, log, stderr)
	if err != nil {
		return nil, nil, err
	}
	return dispatch.NewJobRunner(cluster, tpl, options, log, stdout), cleanup, nil
}

func connect(conf *configs.Config, log *zap.Logger, stderr io.Writer) (_ k8s.Cluster, cleanup func(), _ error) {
	jobConf := conf.Job()
	creds, err := kubeutil.Discover(kubeutil.Sources{
		Kubeconfig: jobConf.Credentials().Kubeconfig(),
		TokenFile:  jobConf.Credentials().TokenFile(),
		CAFile:     jobConf.Credentials().CAFile(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", dispatch.ErrConfiguration, err)
	}
	log.Debug(
		"credentials are found",
		zap.Bool("inCluster", creds.InCluster()), zap.String("kubeconfig", creds.Kubeconfig),
	)

	cleanup = func() {}
	var client k8s.K8sClient
	switch jobConf.Client() {
	case configs.ClientKubectl:
		bin, err := kubectl.Find(jobConf.Kubectl().SearchPath())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", dispatch.ErrConfiguration, err)
		}
		log.Debug("using kubectl", zap.String("path", bin))
		globalFlags, remove, err := creds.KubectlFlags()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", dispatch.ErrConfiguration, err)
		}
		cleanup = remove
		client = kubectl.New(
			bin,
			kubectl.WithGlobalFlags(globalFlags...),
			kubectl.WithStderr(stderr),
		)
	default:
		clientset, err := kubeutil.ConnectToK8s(creds)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", dispatch.ErrConfiguration, err)
		}
		client = k8s.WrapK8sClient(clientset)
	}

	return k8s.AttachCluster(client, conf.Namespace()), cleanup, nil
}
