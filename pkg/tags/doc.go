// Package tags attaches labels to nodes and keeps per-user favorites.
//
// Tags are global and uniquely named, with an optional description and a
// #rrggbb color. A node carries any number of tags. Favorites are private to a
// user and may carry a custom label that SearchFavorites matches against.
package tags
