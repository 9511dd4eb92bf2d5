package main

// General API documentation for swaggo. Run `swag init -g cmd/edgelm/docs.go -o docs` to regenerate.
//
// @title           edgelm API
// @version         1.0
// @description     Single-model on-device LLM inference with NDJSON streaming.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
