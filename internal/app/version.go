package app

// Version identifies the build in diagnostics and the health endpoint.
const Version = "1.0.0"
