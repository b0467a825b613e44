package ir

// Version is the checkonaut release recorded with archived runs.
const Version = "0.1.0"
