package worldcupchat

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the chat page. These templates
// are organized in a directory structure that separates layouts, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets, the stylesheet and the small script handling the
// textarea and the loading bubble.
//
//go:embed static/*
var StaticFS embed.FS
