// Package main provides a Lambda entry point for the edit HTTP API.
//
// The same gin router as `grok-edit serve` runs behind API Gateway (HTTP API,
// payload v2). Configuration comes from GROK_EDIT_* environment variables;
// the API key is read from SSM when GROK_EDIT_API_KEY_SSM_PARAM is set.
// Results are written to /tmp and, when GROK_EDIT_RELAY_S3_BUCKET is set,
// relayed through pre-signed S3 links. Pipeline metrics are emitted as EMF.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/fpang/grok-image-edit/internal/bootstrap"
	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/httpapi"
	"github.com/fpang/grok-image-edit/internal/logging"
	"github.com/fpang/grok-image-edit/internal/metrics"
)

// lambdaDataDir is the only writable path in the Lambda sandbox.
const lambdaDataDir = "/tmp/grok-edit"

var app *bootstrap.App

func init() {
	initStart := time.Now()

	opts, err := config.Load(os.Getenv("GROK_EDIT_CONFIG"))
	if err != nil {
		logging.Init("info", "json")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(opts.LogLevel, "json")
	if os.Getenv("GROK_EDIT_DATA_DIR") == "" {
		opts.DataDir = lambdaDataDir
	}

	app, err = bootstrap.Build(context.Background(), opts, metrics.EMF{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise edit service")
	}

	if app.Options.HTTPAuthSecret == "" {
		log.Warn().Msg("GROK_EDIT_HTTP_AUTH_SECRET is not set, /v1/edits and /v1/probe will refuse every request")
	}
	bootstrap.StartupLog("grok-edit-lambda", app.Options, initStart).Log()
}

func main() {
	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewServer(app.Service, app.Options).Router()

	adapter := httpadapter.NewV2(router)
	lambda.Start(adapter.ProxyWithContext)
}
