// Configstore is a multi-tenant configuration store backed by on-disk
// Git repositories.
//
// Every tenant owns a repository, every environment is a branch, and
// every configuration fragment is a file in that branch's tree. Changes
// are commits; commit hashes double as ETags. The same repositories are
// served over the smart-HTTP Git protocol, and pushes are fanned out to
// REST change-stream subscribers.
//
// Usage:
//
//	# Start server
//	configstore run --config config.yaml
//
//	# Show version information
//	configstore version
package main

func main() {
	Execute()
}
