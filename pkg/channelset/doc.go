// Package channelset provides the ordered, de-duplicated set of channel names
// a client is subscribed to.
//
// The set preserves first-seen insertion order so that the subscribe URL built
// from it is deterministic across reconnect cycles:
//
//	var set channelset.Set
//	set.Add("abc", "cde")        // 2
//	set.Add("abc", "fgh", "cde") // 1, set is [abc cde fgh]
//	set.Remove("abc", "cde")     // 2, set is [fgh]
//	set.Encoded()                // "fgh"
//
// Set is not safe for concurrent use; it is owned by a single pubnub.Client.
package channelset
