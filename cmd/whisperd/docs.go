package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           whisperd API
// @version         1.0
// @description     HTTP API for GPU-backed audio transcription jobs.
//
// @contact.name   whisperd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
