// Package region owns the counting region geometry.
//
// Responsibilities: the start-up rectangle, keystone correction of that
// rectangle into a quadrilateral that approximates a tilted camera's view of
// a rectangular floor zone, and the point-in-polygon predicate.
// Key types: Rect, Polygon.
//
// Everything here is a pure function of its inputs. No state, no I/O.
package region
