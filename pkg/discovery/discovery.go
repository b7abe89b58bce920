package discovery

// Discovery abstracts how the set of known cluster members is provided to a
// client. Implementations include static lists, file/ENV sources, and DNS.
type Discovery interface {
	// Members returns the current "host:port" member set.
	Members() []string
}
