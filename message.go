package main

const (
	MsgNoFace = "No face was detected in the photo. Use a photo where the face is clearly visible."

	MsgMultipleFaces = "More than one face was detected in the photo. Use a photo that shows only the person being enrolled."

	MsgNoUnknownFace = "No unknown face to save. Stand in front of the camera until you are shown as Unknown, then try again."

	MsgNoUsers = "No users found"

	MsgMissingUsername = "username is required"
)
