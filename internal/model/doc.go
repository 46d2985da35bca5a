// Package model defines the records that flow through a sync run: raw
// tracker issues, the test cases derived from them, and their data tables.
package model
