// Package broker implements C8 and the broker half of C9's wire
// contract: a sqlite3-backed relational store plus the net/http ServeMux
// surface in front of it. See store.go for the schema and duplicate
// predicates, server.go for the route table.
package broker
