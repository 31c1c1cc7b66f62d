// Package main 是命令行工具 chatpdf 的入口，直接调用入库与问答服务而不经过 HTTP。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"chat-pdf-go/internal/bootstrap"
	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/llm"
	"chat-pdf-go/pkg/log"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

const appKey = "app"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "chatpdf",
		Usage:     "Ingest PDFs into a vector store and ask questions about them",
		Writer:    out,
		ErrWriter: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file (empty: defaults and environment only)",
				Value:   "./configs/config.yaml",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Extract, embed and upsert one or more PDF files",
				ArgsUsage: "<file.pdf>...",
				Before:    setup,
				Action:    ingestCommand,
			},
			{
				Name:      "ask",
				Usage:     "Ask a question about the ingested PDFs",
				ArgsUsage: "<question>",
				Before:    setup,
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "show-context",
						Usage: "Print the retrieved context before the answer",
					},
					&cli.BoolFlag{
						Name:  "raw",
						Usage: "Print the raw chat completion JSON",
					},
				},
			},
		},
	}
}

// setup 加载配置并组装服务，结果保存在 App.Metadata 中。
func setup(c *cli.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log.Init(c.String("log-level"), "console", "")

	app, err := bootstrap.New(c.Context, cfg)
	if err != nil {
		return err
	}
	c.App.Metadata = map[string]interface{}{appKey: app}
	return nil
}

func appFrom(c *cli.Context) *bootstrap.App {
	return c.App.Metadata[appKey].(*bootstrap.App)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one PDF file is required")
	}
	docs, err := bootstrap.LoadDocuments(c.Args().Slice())
	if err != nil {
		return err
	}

	res, err := appFrom(c).Ingestor.Ingest(contextOf(c), docs)
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		fmt.Fprintf(c.App.Writer, "%s: %d pages, %d vectors\n", f.Name, f.Pages, f.VectorCount)
	}
	fmt.Fprintf(c.App.Writer, "total: %d vectors\n", res.VectorCount)
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}

	res, err := appFrom(c).Chat.Answer(contextOf(c), []model.ChatMessage{{Role: model.RoleUser, Content: question}})
	if err != nil {
		return err
	}
	if c.Bool("show-context") {
		fmt.Fprintf(c.App.Writer, "--- context ---\n%s\n---------------\n", res.Context)
	}
	if c.Bool("raw") {
		fmt.Fprintln(c.App.Writer, string(res.Completion))
		return nil
	}
	completion, err := llm.ParseCompletion(res.Completion)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, completion.Content())
	return nil
}

func contextOf(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}
