/*
Package errors provides structured error handling for the system.

It defines a standard AppError type that includes:
  - Error Code (standardized strings like NOT_FOUND, INTERNAL)
  - Message (human-readable description)
  - Underlying Error (chaining)

It also provides constructor helpers for the common error scenarios used
across the module (validation, disposal, concurrency rejection, and so on).
*/
package errors
