package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/axiomesh/allocator/repo"
)

var configCMD = &cli.Command{
	Name:  "config",
	Usage: "The config manage commands",
	Subcommands: []*cli.Command{
		{
			Name:   "generate",
			Usage:  "Generate default config",
			Action: generate,
		},
		{
			Name:   "show",
			Usage:  "Show the complete config processed by the environment variable",
			Action: withRepo(show),
		},
		{
			Name:   "check",
			Usage:  "Check if the config file and the mechanism section are valid",
			Action: withRepo(check),
		},
		{
			Name:   "rewrite-with-env",
			Usage:  "Rewrite config with env",
			Action: withRepo(rewriteWithEnv),
		},
	},
}

func generate(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	if repo.Exist(p) {
		fmt.Println("allocator repo already exists")
		return nil
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return err
	}

	r := &repo.Repo{Config: repo.DefaultConfig(p)}
	if err := r.Flush(); err != nil {
		return err
	}
	fmt.Printf("initializing allocator at %s\n", p)
	return nil
}

// withRepo runs fn with the loaded repo, or reports a missing repo.
func withRepo(fn func(r *repo.Repo) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		p, err := getRootPath(ctx)
		if err != nil {
			return err
		}
		if !repo.Exist(p) {
			fmt.Println("allocator repo not exist")
			return nil
		}
		r, err := repo.Load(p)
		if err != nil {
			fmt.Println("config file format error, please check:", err)
			os.Exit(1)
		}
		return fn(r)
	}
}

func show(r *repo.Repo) error {
	str, err := repo.MarshalConfig(r.Config)
	if err != nil {
		return err
	}
	fmt.Println(str)
	return nil
}

func check(r *repo.Repo) error {
	if _, err := r.Config.MechanismConfig(); err != nil {
		fmt.Println("mechanism config error, please check:", err)
		os.Exit(1)
	}
	if _, _, err := buildStrategy(r.Config.Mechanism); err != nil {
		fmt.Println("strategy config error, please check:", err)
		os.Exit(1)
	}
	fmt.Printf("%s is valid\n", r.ConfigPath())
	return nil
}

func rewriteWithEnv(r *repo.Repo) error {
	return r.ReloadWithEnv()
}

func getRootPath(ctx *cli.Context) (string, error) {
	return repo.LoadRepoRootFromEnv(ctx.String("repo"))
}
