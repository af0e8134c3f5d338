// Package app composes the platform services into a running application.
//
// # Architecture Role
//
// The app package sits above the engines (rules, flow, apicall, expr) and
// below the HTTP layer. It owns wiring and lifecycle, not business logic:
// business logic belongs in the services subpackages.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── artifact/       # Versioned configuration artifacts
//	│   ├── configpkg/      # Package lifecycle and release tracking
//	│   ├── tenant/         # Tenants, users, roles
//	│   └── ...             # Executions, secrets, schedules, audit
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (ArtifactStore, PackageStore, ...)
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic (artifacts, packages, flows, ...)
//	├── httpapi/            # HTTP API handlers, routing, websocket streaming
//	├── system/             # Service lifecycle manager
//	├── ops/                # Operational endpoints (health, metrics, sysinfo)
//	├── runtime/            # Process assembly: config, database, listeners
//	└── metrics/            # Prometheus collectors
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services with their stores and engine dependencies
//   - Defining the storage interfaces services depend on
//   - Providing domain models shared across services
//   - Managing startup and shutdown ordering
//
// # Dependency Direction
//
//	cmd/server/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/engine/ (rules, flow, apicall, expr)
//	      │
//	      └──► internal/platform/ (cache, migrations)
//
// # Example: Adding a New Artifact Kind
//
// When adding a new artifact kind (e.g. "report"):
//
//  1. Add the kind constant in internal/app/domain/artifact/
//  2. Create the spec model and validation in a service under services/
//  3. Register the kind with the artifacts service in application.go
//  4. Add HTTP handlers in internal/app/httpapi/ if the kind needs
//     endpoints beyond the generic artifact CRUD
package app
