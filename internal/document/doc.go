// Package document defines the finalisable records (reports and deliverables),
// their closed lifecycle states, and the transition table every caller shares.
package document
