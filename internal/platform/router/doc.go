// Package router manages DHCP reservations on an ASUS router through its web
// API (login.cgi, appGet.cgi, applyapp.cgi).
//
// Reservations live in a single nvram variable, dhcp_staticlist. Every write
// replaces the whole variable, so the client serializes read-modify-write
// cycles and re-reads the live list before each change.
package router
