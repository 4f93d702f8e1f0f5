package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/repr"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"github.com/ztrue/tracerr"

	"github.com/dueldanov/packscript/internal/config"
	"github.com/dueldanov/packscript/internal/logging"
	"github.com/dueldanov/packscript/internal/packscript"
)

func main() {
	app := &cli.App{
		Name:  "packscript",
		Usage: "run, check and test PackScript programs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML parameters file"},
			&cli.StringFlag{Name: "mode", Usage: "override the execution engine: vm or interpreter"},
			&cli.StringFlag{Name: "report", Usage: "write the JSON step report to this file"},
			&cli.BoolFlag{Name: "console", Usage: "print pipeline steps while they run"},
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			if err == nil {
				return
			}
			if exit, ok := err.(cli.ExitCoder); ok && exit.Error() == "" {
				os.Exit(exit.ExitCode())
			}
			tracerr.PrintSourceColor(err)
			os.Exit(1)
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "compile and execute a script",
				ArgsUsage: "<file>",
				Action:    runCommand,
			},
			{
				Name:      "check",
				Usage:     "lex, parse and validate a script without running it",
				ArgsUsage: "<file>",
				Action:    checkCommand,
			},
			{
				Name:      "compile",
				Usage:     "print the bytecode of a script",
				ArgsUsage: "<file>",
				Action:    compileCommand,
			},
			{
				Name:      "ast",
				Usage:     "print the syntax tree of a script",
				ArgsUsage: "<file>",
				Action:    astCommand,
			},
			{
				Name:      "test",
				Usage:     "run every test declaration of a script",
				ArgsUsage: "<file>",
				Action:    testCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		// usage errors never reach ExitErrHandler
		tracerr.PrintSourceColor(err)
		os.Exit(1)
	}
}

// loadParameters applies the global flags over the config file
func loadParameters(c *cli.Context) (*config.Parameters, error) {
	params, err := config.Load(c.String("config"))
	if err != nil {
		return nil, tracerr.Wrap(err)
	}
	if mode := c.String("mode"); mode != "" {
		params.Engine.Mode = mode
	}
	if report := c.String("report"); report != "" {
		params.Report.Path = report
	}
	if c.Bool("console") {
		params.Report.Console = true
	}
	if err := params.Validate(); err != nil {
		return nil, tracerr.Wrap(err)
	}
	return params, nil
}

func readSource(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("expected exactly one script file")
	}
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return "", tracerr.Wrap(err)
	}
	return string(data), nil
}

// session bundles what every command needs
type session struct {
	ctx    context.Context
	source string
	engine *packscript.Engine
}

// withSession loads the parameters and source, resolves the engine and
// flushes the step report once fn returns.
func withSession(c *cli.Context, workflow string, fn func(*session) error) error {
	params, err := loadParameters(c)
	if err != nil {
		return err
	}
	source, err := readSource(c)
	if err != nil {
		return err
	}

	steps := logging.NewDisabledLogger()
	if params.Report.Path != "" || params.Report.Console {
		steps = logging.NewLogger(workflow, params.Report.Path)
		if params.Report.Console {
			steps.SetConsole(os.Stderr)
		}
	}

	return withEngine(params, func(engine *packscript.Engine) error {
		s := &session{
			ctx:    logging.WithLogger(c.Context, steps),
			source: source,
			engine: engine,
		}

		runErr := fn(s)

		if params.Report.Path != "" {
			if err := steps.Flush(); err != nil && runErr == nil {
				runErr = errors.Wrap(err, "failed to write step report")
			}
		}
		if params.Report.Console {
			steps.PrintSummary(os.Stderr)
		}
		return runErr
	})
}

func runCommand(c *cli.Context) error {
	return withSession(c, logging.WorkflowRun, func(s *session) error {
		// say output is printed while the run is still going
		s.engine.Events.RuntimeCreated.Hook(func(rt *packscript.Runtime) {
			rt.Events.Output.Hook(func(line string) {
				fmt.Fprintln(c.App.Writer, line)
			})
		})

		result, err := s.engine.Run(s.ctx, s.source)
		if err != nil {
			return err
		}
		if result.Value != nil {
			fmt.Fprintf(c.App.Writer, "=> %s\n", packscript.FormatValue(result.Value))
		}
		return nil
	})
}

func checkCommand(c *cli.Context) error {
	return withSession(c, logging.WorkflowCheck, func(s *session) error {
		if err := s.engine.ValidateScript(s.ctx, s.source); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s: ok\n", c.Args().First())
		return nil
	})
}

func compileCommand(c *cli.Context) error {
	return withSession(c, logging.WorkflowCompile, func(s *session) error {
		script, err := s.engine.CompileScript(s.ctx, s.source)
		if err != nil {
			return err
		}
		fmt.Fprint(c.App.Writer, script.Bytecode.String())
		return nil
	})
}

func astCommand(c *cli.Context) error {
	return withSession(c, logging.WorkflowCompile, func(s *session) error {
		program, err := s.engine.ParseSource(s.ctx, s.source)
		if err != nil {
			return err
		}
		repr.New(c.App.Writer, repr.Indent("  ")).Println(program)
		return nil
	})
}

func testCommand(c *cli.Context) error {
	return withSession(c, logging.WorkflowTest, func(s *session) error {
		script, err := s.engine.CompileScript(s.ctx, s.source)
		if err != nil {
			return err
		}

		results, err := s.engine.RunTests(s.ctx, script)
		failed := 0
		for _, r := range results {
			if r.Passed {
				fmt.Fprintf(c.App.Writer, "PASS %s\n", r.Name)
				continue
			}
			failed++
			fmt.Fprintf(c.App.Writer, "FAIL %s: %v\n", r.Name, r.Err)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(c.App.Writer, "%d passed, %d failed\n", len(results)-failed, failed)
		if failed > 0 {
			return cli.Exit("", 1)
		}
		return nil
	})
}
