// Short-lived cache for data fetched from the chat transport, such as group metadata (names, participants, admins).
//
// Values are strings (usually JSON) under a (name, key) pair, with a fixed TTL. There are in-process and redis implementations.
package cachestore
