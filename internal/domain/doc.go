// Package domain defines core data models, sentinel errors and the contracts
// shared across peerchat. It contains plain types (wire/state) and
// interfaces only.
package domain
