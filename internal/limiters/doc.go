// Package limiters implements Redis fixed-window attempt throttles. They
// protect challenge resends and second-factor verification independently of
// the account lockout policy, which lives on the user record.
package limiters
