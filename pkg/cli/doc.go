// Package cli provides the portalfs command-line interface for administering
// file trees from the terminal.
//
// # Overview
//
// Every command talks to a running portalfs server over its HTTP API. The
// connection flags are shared:
//
//	-server      server URL (PORTALFS_SERVER, default http://localhost:8080)
//	-user        user id sent as X-User-ID (PORTALFS_USER)
//	-token-url   OAuth2 token endpoint (PORTALFS_TOKEN_URL)
//	-client-id   OAuth2 client id (PORTALFS_CLIENT_ID)
//
// With -token-url the CLI obtains bearer tokens through the client
// credentials grant and reads the secret from PORTALFS_CLIENT_SECRET.
//
// # Commands
//
// ls: List roots, folder contents or trash
//
//	portalfs ls -user alice -scope project:12
//	portalfs ls -user alice -parent 40
//	portalfs ls -user alice -scope repository:3@7 -trash
//
// mkdir, rm: Create a folder, trash a subtree
//
//	portalfs mkdir -user alice -scope project:12 -parent 40 -name guides
//	portalfs rm -user alice -node 41
//
// upload, download: Transfer file content
//
//	portalfs upload -user alice -scope project:12 -parent 40 -file ./intro.md
//	portalfs upload -user alice -replace 42 -file ./intro.md
//	portalfs download -user alice -node 42 -out intro.md
//
// share: Manage public share links
//
//	portalfs share -user alice -node 42 -expires 72h -max-downloads 10
//	portalfs share -user alice -list
//	portalfs share -user alice -deactivate 9f3c...
//
// grant: Manage node permissions
//
//	portalfs grant -user alice -node 40 -to-team docs -level WRITE
//	portalfs grant -user alice -node 40 -list
//
// submit, jobs: Run and follow bulk jobs
//
//	portalfs submit -user alice -op COMPRESS -nodes 40,41
//	portalfs submit -user alice -op BULK_UPLOAD -files a.md,b.md \
//		-target-scope project:12 -target-parent 40
//	portalfs jobs -user alice -id 7 -wait
//	portalfs jobs -user alice -id 7 -cancel
//
// # Related Packages
//
//   - pkg/api: The HTTP surface these commands call
//   - pkg/jobs: Job operations and statuses
package cli
