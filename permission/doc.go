// Package permission is the RBAC resolver.
//
// Roles and permissions are plain records. [Resolve] is a pure function
// from assigned role names and the role map to a permission [Set]; it
// follows parent links and stops after a fixed depth. Cycles are rejected
// when a role is written ([ValidateHierarchy]), not when it is read.
//
//	permissions(name text primary key, resource text, action text)
//	roles(name text primary key, parent_name text references roles(name))
//	role_permissions(role_name text references roles(name), permission_name text references permissions(name))
//
// Resolution always reads the current role state; nothing is cached in
// process.
package permission
