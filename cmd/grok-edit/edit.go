package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/grok-image-edit/internal/access"
	"github.com/fpang/grok-image-edit/internal/bootstrap"
	"github.com/fpang/grok-image-edit/internal/cli"
	"github.com/fpang/grok-image-edit/internal/edit"
	"github.com/fpang/grok-image-edit/internal/metrics"
)

var (
	imageFlag  string
	promptFlag string
	keepFlag   bool
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit one local image",
	Long: `Edit one local image. Result images are written to <data_dir>/images and
kept; relayed or remote results are printed as references.`,
	RunE: runEdit,
}

func init() {
	editCmd.Flags().StringVarP(&imageFlag, "image", "i", "", "Image to edit")
	editCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "Edit instruction (prompted for when empty)")
	editCmd.Flags().BoolVar(&keepFlag, "keep", true, "Keep result images on disk")
	_ = editCmd.MarkFlagRequired("image")
}

func runEdit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	opts.SaveImageEnabled = keepFlag

	data, err := cli.ReadImageFile(imageFlag, opts.MaxDownloadBytes)
	if err != nil {
		return err
	}
	prompt := promptFlag
	if prompt == "" {
		prompt = cli.PromptForInstruction(os.Stdin, cmd.OutOrStdout())
	}

	app, err := bootstrap.Build(ctx, opts, metrics.Nop{})
	if err != nil {
		return err
	}
	defer app.Close()

	id := access.Identity{UserID: localUser()}
	if d := app.Service.Authorize(ctx, id, app.Options); !d.Allowed {
		return edit.DeniedError(d, app.Options)
	}

	res, err := app.Service.ProcessEdit(ctx, edit.Request{
		Identity: id,
		Source:   edit.SourceImage{Data: data},
		Prompt:   prompt,
		Options:  app.Options,
	}, func(context.Context, []edit.Delivery) error { return nil })

	cli.PrintResult(cmd.OutOrStdout(), res, app.Options.SaveImageEnabled)
	if err != nil {
		if msg := edit.StatusText(app.Options.StatusMessageMode, err); msg != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), msg)
		}
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("Edit canceled")
		}
		return err
	}
	return nil
}

func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}
