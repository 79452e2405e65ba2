// Package checkpoint records which collection windows have been fully processed.
//
// The file maps entity key -> window start date -> {date_to, region_ids}:
//
//	{
//	  "https://example.com": {
//	    "2024-03-01": {"date_to": "2024-03-14", "region_ids": [225]}
//	  }
//	}
//
// A window is skipped when its entry has the same date_to and, if the run asks for
// specific regions, the same region list. Writes replace the whole file through a
// temporary file and rename, so an interrupted run leaves either the old or the new
// document on disk.
package checkpoint
