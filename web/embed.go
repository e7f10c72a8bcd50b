package web

import "embed"

// Templates embeds the layouts, partials and pages parsed by view.Engine.
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static embeds stylesheets and the listing form script served under /static/.
//
//go:embed static/**/*
var Static embed.FS
