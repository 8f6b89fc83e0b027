// Package transform validates raw staged rows and turns them into canonical
// detection records.
//
// Two header layouts are understood. The current detector writes
// source_file, source_type, frame_number, frame_timestamp, class_name,
// confidence, bbox_x1..bbox_y2, image_width and image_height. The first
// release wrote source, frame, label, score, x_min..y_max, width and height.
// ResolveHeader picks the layout once per file; Normalize is then called per
// row and fails with a *detloader.ValidationError carrying a reason code.
package transform
