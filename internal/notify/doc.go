// Package notify sends pipeline lifecycle notifications through ntfy.
package notify
